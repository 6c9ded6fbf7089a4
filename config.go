package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/contrib/renders/multitemplate"
	"github.com/gin-gonic/gin"
	"github.com/xyproto/env/v2"

	"sigdetour/internal/intercept"
	"sigdetour/internal/memory"
)

// SignatureConfig is a pattern plus the steps leading to the address.
type SignatureConfig struct {
	Name       string `json:"name"`
	Module     string `json:"module,omitempty"`
	Pattern    string `json:"pattern"`
	Steps      string `json:"steps,omitempty"`
	Size       uint64 `json:"size,omitempty"`
	IntervalMS int    `json:"interval_ms,omitempty"`
	TimeoutMS  int    `json:"timeout_ms,omitempty"`
}

func (s SignatureConfig) Compile() (intercept.Signature, error) {
	sig, err := intercept.NewSignature(s.Name, s.Module, s.Pattern, s.Steps)
	if err != nil {
		return sig, err
	}

	sig.Size = uintptr(s.Size)
	sig.Interval = time.Duration(s.IntervalMS) * time.Millisecond
	sig.Timeout = time.Duration(s.TimeoutMS) * time.Millisecond
	return sig, nil
}

// TargetConfig is one function to hook.
type TargetConfig struct {
	SignatureConfig

	// Aux signatures locate data the script can read.
	Aux []SignatureConfig `json:"aux,omitempty"`

	// Redirect locates an existing function to send calls to. Without it
	// the target gets a callback running Script after the original.
	Redirect *SignatureConfig `json:"redirect,omitempty"`
	Args     int              `json:"args,omitempty"`
	Script   string           `json:"script,omitempty"`
	CDecl    bool             `json:"cdecl,omitempty"`

	// Games limits the target to the listed game ids.
	Games []string `json:"games,omitempty"`
}

// GameConfig identifies the running game by a string inside it.
type GameConfig struct {
	SignatureConfig
	MaxLen int               `json:"max_len,omitempty"`
	Names  map[string]string `json:"names"` // game name -> id
}

type Config struct {
	Listen     string `json:"listen"`
	LogLevel   string `json:"log_level"`
	IntervalMS int    `json:"interval_ms,omitempty"`
	TimeoutMS  int    `json:"timeout_ms,omitempty"`

	IRCServer  string `json:"irc_server,omitempty"`
	IRCTLS     bool   `json:"irc_tls,omitempty"`
	IRCNick    string `json:"irc_nick,omitempty"`
	IRCPass    string `json:"irc_pass,omitempty"`
	IRCChannel string `json:"irc_channel,omitempty"`

	Game    *GameConfig    `json:"game,omitempty"`
	DLLDir  string         `json:"dll_dir,omitempty"` // extra DLLs loaded after the game is known
	Targets []TargetConfig `json:"targets"`

	sigdetourConfigDir string
}

func (c *Config) SetDefaults() {
	c.Listen = "127.0.0.1:8567"
	c.LogLevel = "info"
	c.IntervalMS = int(intercept.DefaultInterval / time.Millisecond)
	c.TimeoutMS = int(intercept.DefaultTimeout / time.Millisecond)
	c.IRCNick = "sigdetour"
	c.Targets = nil
}

// ApplyEnv overrides file settings with SIGDETOUR_* variables.
func (c *Config) ApplyEnv() {
	c.Listen = env.Str("SIGDETOUR_LISTEN", c.Listen)
	c.LogLevel = env.Str("SIGDETOUR_LOG_LEVEL", c.LogLevel)
	c.IntervalMS = env.Int("SIGDETOUR_INTERVAL_MS", c.IntervalMS)
	c.TimeoutMS = env.Int("SIGDETOUR_TIMEOUT_MS", c.TimeoutMS)
	c.IRCServer = env.Str("SIGDETOUR_IRC_SERVER", c.IRCServer)
	c.IRCChannel = env.Str("SIGDETOUR_IRC_CHANNEL", c.IRCChannel)
}

func (c *Config) Interval() time.Duration {
	if c.IntervalMS <= 0 {
		return intercept.DefaultInterval
	}
	return time.Duration(c.IntervalMS) * time.Millisecond
}

func (c *Config) Timeout() time.Duration {
	if c.TimeoutMS <= 0 {
		return intercept.DefaultTimeout
	}
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

func (c *Config) Init() error {
	if env.Has("SIGDETOUR_CONFIG_DIR") {
		c.sigdetourConfigDir = env.Str("SIGDETOUR_CONFIG_DIR")
	} else {
		cfgdir, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		c.sigdetourConfigDir = filepath.Join(cfgdir, "sigdetour")
	}

	err := os.MkdirAll(c.sigdetourConfigDir, 0777)
	if err != nil && !errors.Is(err, fs.ErrExist) {
		return err
	}

	return nil
}

func (c *Config) Path() string {
	return filepath.Join(c.sigdetourConfigDir, "config.json")
}

func (c *Config) Load() error {
	c.SetDefaults()

	f, err := os.Open(c.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			c.ApplyEnv()
			return nil
		}

		return err
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	err = dec.Decode(c)
	if err != nil {
		return fmt.Errorf("cannot parse %s: %w", c.Path(), err)
	}

	c.ApplyEnv()
	return c.Validate()
}

// Validate compiles every pattern and step chain so typos show up before
// anything is hooked.
func (c *Config) Validate() error {
	seen := make(map[string]bool)
	for _, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("target with pattern %q has no name", t.Pattern)
		}
		if seen[t.Name] {
			return fmt.Errorf("duplicate target name %q", t.Name)
		}
		seen[t.Name] = true

		sigs := append([]SignatureConfig{t.SignatureConfig}, t.Aux...)
		if t.Redirect != nil {
			sigs = append(sigs, *t.Redirect)
		}
		for _, s := range sigs {
			if _, err := s.Compile(); err != nil {
				return fmt.Errorf("target %s: %w", t.Name, err)
			}
		}
	}

	if c.Game != nil {
		if _, err := c.Game.Compile(); err != nil {
			return fmt.Errorf("game: %w", err)
		}
	}

	return nil
}

func (c Config) Save() error {
	f, err := os.OpenFile(c.Path(), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "    ")
	err = enc.Encode(c)
	if err != nil {
		return err
	}

	return nil
}

func (c Config) ReadDir(dirname string) ([]string, error) {
	locals := make(map[string]bool)
	entries, err := os.ReadDir(filepath.Join(c.sigdetourConfigDir, dirname))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	result := make([]string, 0, len(entries))

	for _, entry := range entries {
		if !usableFile(entry) {
			continue
		}

		locals[entry.Name()] = true
		result = append(result, filepath.Join(c.sigdetourConfigDir, dirname, entry.Name()))
	}

	entries, err = os.ReadDir(dirname)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	for _, entry := range entries {
		if !usableFile(entry) || locals[entry.Name()] {
			continue
		}

		result = append(result, filepath.Join(dirname, entry.Name()))
	}

	return result, nil
}

func usableFile(entry fs.DirEntry) bool {
	name := entry.Name()
	if !entry.Type().IsRegular() {
		return false
	}
	return !strings.HasSuffix(name, ".swp") && !strings.HasPrefix(name, ".") && !strings.HasSuffix(name, "~")
}

// InitTemplates loads templates from the config directory first, then from
// ./templates. Files starting with "_" are partials shared by every page.
func (c Config) InitTemplates(r *gin.Engine) error {
	var err error
	var data []byte
	var tmpl *template.Template

	var names, pnames []string

	template_files, err := c.ReadDir("templates")
	if err != nil {
		return err
	}
	for _, name := range template_files {
		if strings.HasPrefix(filepath.Base(name), "_") {
			pnames = append(pnames, name)
		} else {
			names = append(names, name)
		}
	}

	funcs := template.FuncMap{
		"join": strings.Join,
		"addr": func(a memory.Address) string { return a.String() },
	}

	render := multitemplate.New()
	ptmpls := make(map[string]*template.Template)
	for _, pname := range pnames {
		if data, err = os.ReadFile(pname); err != nil {
			return fmt.Errorf("cannot read partial %q: %w", pname, err)
		}
		pname = strings.TrimSuffix(filepath.Base(pname), ".html")
		if tmpl, err = template.New(pname).Funcs(funcs).Parse(string(data)); err != nil {
			return fmt.Errorf("cannot parse template %q: %w", pname, err)
		}
		ptmpls[pname] = tmpl
	}
	for _, name := range names {
		if data, err = os.ReadFile(name); err != nil {
			return fmt.Errorf("cannot read template %q: %w", name, err)
		}
		if tmpl, err = template.New(filepath.Base(name)).Funcs(funcs).Parse(string(data)); err != nil {
			return fmt.Errorf("cannot parse template %q: %w", name, err)
		}
		for pname, ptmpl := range ptmpls {
			tmpl.AddParseTree(pname, ptmpl.Tree)
		}
		render.Add(filepath.Base(name), tmpl)
	}
	r.HTMLRender = render

	return nil
}

// vim: ai:ts=8:sw=8:noet:syntax=go
