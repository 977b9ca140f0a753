package modifiers

// ProcessMods applies functional options to a value under construction, in order
func ProcessMods[M any](cfg *M, mods []func(*M)) {
	for _, mod := range mods {
		if mod != nil {
			mod(cfg)
		}
	}
}
