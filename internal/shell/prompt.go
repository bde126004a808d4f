package shell

import (
	"os"
	"os/user"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

// maxPromptDir is the longest working directory shown in the default
// prompt before it is shortened to its tail.
const maxPromptDir = 25

// promptEnv is what a prompt is rendered from.
type promptEnv struct {
	user, host, cwd, home string
	root                  bool
}

func currentPromptEnv() promptEnv {
	env := promptEnv{user: os.Getenv("USER"), root: os.Geteuid() == 0}
	if env.user == "" {
		if u, err := user.Current(); err == nil {
			env.user = u.Username
		} else {
			env.user = "user"
		}
	}
	env.host, _ = os.Hostname()
	if env.host == "" {
		env.host = "host"
	}
	env.cwd, _ = os.Getwd()
	env.home, _ = os.UserHomeDir()
	return env
}

// shortDir abbreviates the home directory to ~ and keeps only the tail of
// long paths.
func shortDir(cwd, home string) string {
	if home != "" && (cwd == home || strings.HasPrefix(cwd, home+string(filepath.Separator))) {
		cwd = "~" + strings.TrimPrefix(cwd, home)
	}
	if len(cwd) > maxPromptDir {
		cwd = "..." + cwd[len(cwd)-(maxPromptDir-3):]
	}
	return cwd
}

// renderPrompt expands a prompt template. \u, \h, \w and \$ stand for the
// user, host, shortened working directory and the $ or # sign. An empty
// template renders user@host:dir$ with optional colors.
func renderPrompt(template string, env promptEnv, colored bool) string {
	sign := "$"
	if env.root {
		sign = "#"
	}
	dir := shortDir(env.cwd, env.home)

	if template != "" {
		r := strings.NewReplacer(`\u`, env.user, `\h`, env.host, `\w`, dir, `\$`, sign)
		return r.Replace(template)
	}
	if !colored {
		return env.user + "@" + env.host + ":" + dir + sign + " "
	}
	paint := func(attr color.Attribute, s string) string {
		c := color.New(attr)
		c.EnableColor()
		return c.Sprint(s)
	}
	return paint(color.FgHiCyan, env.user+"@"+env.host) + ":" + paint(color.FgHiGreen, dir) + paint(color.FgHiBlue, sign+" ")
}
