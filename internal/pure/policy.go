package pure

import (
	"strconv"
	"strings"

	"github.com/sunumi/pakfs/internal/archive"
	"github.com/sunumi/pakfs/internal/qpath"
)

// Policy classifies content for reference tracking and for what loose
// directories may serve while a restriction is active.
type Policy struct {
	// BoilerplateExts never mark an archive as generally referenced.
	BoilerplateExts []string `yaml:"boilerplate_exts"`
	// BoilerplateMarkers are substrings of names that never mark an archive
	// as generally referenced.
	BoilerplateMarkers []string `yaml:"boilerplate_markers"`
	// LooseExts may be served from loose directories while restricted.
	LooseExts []string `yaml:"loose_exts"`
	// DemoExtPrefix and DemoProtocols describe demo recordings, which loose
	// directories may also serve while restricted (".dm_68" and so on).
	DemoExtPrefix string `yaml:"demo_ext_prefix"`
	DemoProtocols []int  `yaml:"demo_protocols"`
	// Module base names setting the module reference flags.
	ClientModules []string `yaml:"client_modules"`
	UIModules     []string `yaml:"ui_modules"`
	GameModules   []string `yaml:"game_modules"`
	// NeverDownload lists "gamedir/basename" archives that are never
	// requested from an authority.
	NeverDownload []string `yaml:"never_download"`
}

// DefaultPolicy returns the stock classification.
func DefaultPolicy() Policy {
	return Policy{
		BoilerplateExts:    []string{".shader", ".txt", ".cfg", ".config", ".arena", ".menu"},
		BoilerplateMarkers: []string{"levelshots"},
		LooseExts:          []string{".cfg", ".menu", ".game", ".dat"},
		DemoExtPrefix:      "dm_",
		DemoProtocols:      []int{66, 67, 68, 71},
		ClientModules:      []string{"cgame.qvm"},
		UIModules:          []string{"ui.qvm"},
		GameModules:        []string{"qagame.qvm"},
	}
}

// IsDemo reports whether name carries a demo extension for a known protocol.
func (p Policy) IsDemo(name string) bool {
	if p.DemoExtPrefix == "" {
		return false
	}
	ext := qpath.Ext(name)
	prefix := "." + p.DemoExtPrefix
	if !qpath.HasPrefixFold(ext, prefix) {
		return false
	}
	proto, err := strconv.Atoi(ext[len(prefix):])
	if err != nil {
		return false
	}
	for _, v := range p.DemoProtocols {
		if v == proto {
			return true
		}
	}
	return false
}

// LooseAllowed reports whether a restricted session may read name from a
// loose directory.
func (p Policy) LooseAllowed(name string) bool {
	for _, ext := range p.LooseExts {
		if qpath.HasExt(name, ext) {
			return true
		}
	}
	return p.IsDemo(name)
}

// Classify returns the reference flags that reading name sets on the archive
// that supplied it.
func (p Policy) Classify(name string) archive.RefFlags {
	var flags archive.RefFlags
	if !p.isBoilerplate(name) {
		flags |= archive.RefGeneral
	}
	base := qpath.Base(name)
	if matchAny(base, p.ClientModules) {
		flags |= archive.RefClientModule
	}
	if matchAny(base, p.UIModules) {
		flags |= archive.RefUI
	}
	if matchAny(base, p.GameModules) {
		flags |= archive.RefGame
	}
	return flags
}

func (p Policy) isBoilerplate(name string) bool {
	for _, ext := range p.BoilerplateExts {
		if qpath.HasExt(name, ext) {
			return true
		}
	}
	lower := qpath.Normalize(name)
	for _, m := range p.BoilerplateMarkers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}

func (p Policy) neverDownload(name string) bool {
	return matchAny(name, p.NeverDownload)
}

func matchAny(name string, list []string) bool {
	for _, v := range list {
		if qpath.Equal(name, v) {
			return true
		}
	}
	return false
}
