package services

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/netstack"
	"go.uber.org/goleak"
)

func exerciseService(t *testing.T, addr string) {
	numTests := 10
	wg := sync.WaitGroup{}
	wg.Add(numTests)
	for i := 0; i < numTests; i++ {
		go func(n int) {
			defer wg.Done()
			message := fmt.Sprintf("message %d\n", n)
			conn, err := net.Dial("tcp", addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer func() {
				_ = conn.Close()
			}()
			_, err = conn.Write([]byte(message))
			if err != nil {
				t.Error(err)
				return
			}
			sr := bufio.NewReader(conn)
			var s string
			s, err = sr.ReadString('\n')
			if err != nil {
				t.Error(err)
				return
			}
			if strings.TrimSpace(s) != strings.TrimSpace(message) {
				t.Error("received message did not match sent")
				return
			}
		}(i)
	}
	wg.Wait()
}

func TestCommandService(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/cat")
	}
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc := config.Service{
		Port:    29876,
		Command: "/bin/cat",
	}
	_, err := RunService(ctx, &netstack.NetUserStack{}, svc)
	if err != nil {
		t.Fatal(err)
	}
	exerciseService(t, "127.0.0.1:29876")
	cancel()
	// Allow connections to close their end naturally
	time.Sleep(50 * time.Millisecond)
}

func TestEchoService(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	svc := config.Service{
		Port: 29877,
	}
	_, err := RunService(ctx, &netstack.NetUserStack{}, svc)
	if err != nil {
		t.Fatal(err)
	}
	exerciseService(t, "127.0.0.1:29877")
	cancel()
	time.Sleep(50 * time.Millisecond)
}

func TestServiceErrors(t *testing.T) {
	defer goleak.VerifyNone(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := RunService(ctx, &netstack.NetUserStack{}, config.Service{Port: 0}); err == nil {
		t.Errorf("service started on port 0")
	}
	if _, err := RunService(ctx, &netstack.NetUserStack{}, config.Service{Port: 29878, Command: "\"unterminated"}); err == nil {
		t.Errorf("service started with a malformed command")
	}
}
