package services

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os/exec"

	"github.com/ghjm/lowpan/pkg/config"
	"github.com/ghjm/lowpan/pkg/netstack"
	"github.com/ghjm/lowpan/pkg/x/accept_loop"
	"github.com/google/shlex"
	log "github.com/sirupsen/logrus"
)

// Handler serves one accepted connection.  It must close conn before returning.
type Handler func(ctx context.Context, conn net.Conn) error

// commandHandler runs a command for each connection, with the connection as its stdin and stdout
func commandHandler(args []string) Handler {
	return func(ctx context.Context, conn net.Conn) error {
		return runCommand(ctx, conn, args)
	}
}

func runCommand(ctx context.Context, conn net.Conn, args []string) error {
	defer func() {
		_ = conn.Close()
	}()
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return err
	}
	cmd.Stdout = conn
	var stderr io.ReadCloser
	stderr, err = cmd.StderrPipe()
	if err != nil {
		return err
	}
	err = cmd.Start()
	if err != nil {
		return err
	}
	go func() {
		_, err := io.Copy(stdin, conn)
		if err != nil {
			log.Warnf("read error in service: %s", err)
		}
		err = stdin.Close()
		if err != nil {
			log.Warnf("error closing service stdin: %s", err)
		}
	}()
	go func() {
		sr := bufio.NewReader(stderr)
		for {
			s, rerr := sr.ReadString('\n')
			if rerr != nil {
				return
			}
			log.Warnf("service error: %s", s)
		}
	}()
	err = cmd.Wait()
	if err != nil {
		return err
	}
	return nil
}

// echoHandler writes every line it reads back to the sender
func echoHandler(ctx context.Context, conn net.Conn) error {
	sCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-sCtx.Done()
		_ = conn.Close()
	}()
	r := bufio.NewReader(conn)
	for {
		str, err := r.ReadString('\n')
		if err != nil {
			if err == io.EOF || sCtx.Err() != nil {
				return nil
			}
			return err
		}
		_, err = conn.Write([]byte(str))
		if err != nil {
			return err
		}
	}
}

// RunService listens on the service's TCP port and serves connections until ctx is cancelled.  A service
// with a command runs it for each connection; a service without one is an echo service.
func RunService(ctx context.Context, n netstack.UserStack, service config.Service) (net.Addr, error) {
	if service.Port <= 0 || service.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", service.Port)
	}
	handler := echoHandler
	if service.Command != "" {
		args, err := shlex.Split(service.Command)
		if err != nil {
			return nil, err
		}
		if len(args) == 0 {
			return nil, fmt.Errorf("empty command")
		}
		handler = commandHandler(args)
	}
	li, err := n.ListenTCP(uint16(service.Port))
	if err != nil {
		return nil, err
	}
	go func() {
		<-ctx.Done()
		_ = li.Close()
	}()
	go accept_loop.AcceptLoop(ctx, li, func(ctx context.Context, conn net.Conn) {
		err := handler(ctx, conn)
		if err != nil {
			log.Warnf("service error on %s: %s", conn.RemoteAddr(), err)
		}
	})
	log.Debugf("service listening on port %d", service.Port)
	return li.Addr(), nil
}
