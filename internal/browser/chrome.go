package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// ExecutableSystem asks the launcher to use an installed Chromium-based
// browser instead of the Playwright-managed build.
const ExecutableSystem = "system"

// BrowserKind identifies a Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserBrave    BrowserKind = "brave"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable is a browser binary found on this machine.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

type candidate struct {
	kind BrowserKind
	path string
}

// FindChromeExecutable returns customPath if it exists, otherwise the first
// known Chromium-based browser installed for the current platform.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" && customPath != ExecutableSystem {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}

	for _, c := range platformCandidates() {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}, nil
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return &BrowserExecutable{Kind: BrowserChromium, Path: path}, nil
		}
	}
	return nil, fmt.Errorf("no supported browser found (Chrome/Brave/Edge/Chromium)")
}

func platformCandidates() []candidate {
	home := os.Getenv("HOME")

	switch runtime.GOOS {
	case "darwin":
		return []candidate{
			{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
			{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
			{BrowserBrave, "/Applications/Brave Browser.app/Contents/MacOS/Brave Browser"},
			{BrowserEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
			{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
		}
	case "windows":
		programFiles := os.Getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		local := os.Getenv("LOCALAPPDATA")
		return []candidate{
			{BrowserChrome, filepath.Join(local, "Google", "Chrome", "Application", "chrome.exe")},
			{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
			{BrowserBrave, filepath.Join(programFiles, "BraveSoftware", "Brave-Browser", "Application", "brave.exe")},
			{BrowserEdge, filepath.Join(programFiles, "Microsoft", "Edge", "Application", "msedge.exe")},
		}
	default:
		return []candidate{
			{BrowserChrome, "/usr/bin/google-chrome"},
			{BrowserChrome, "/usr/bin/google-chrome-stable"},
			{BrowserBrave, "/usr/bin/brave-browser"},
			{BrowserEdge, "/usr/bin/microsoft-edge"},
			{BrowserChromium, "/usr/bin/chromium"},
			{BrowserChromium, "/usr/bin/chromium-browser"},
			{BrowserChromium, "/snap/bin/chromium"},
		}
	}
}

// chromeArgs returns the flags every pooled browser is launched with.
func chromeArgs(noSandbox bool, extra []string) []string {
	args := []string{
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-sync",
		"--disable-background-networking",
		"--disable-component-update",
		"--disable-features=Translate,MediaRouter",
		"--disable-session-crashed-bubble",
		"--hide-crash-restore-bubble",
		"--password-store=basic",
	}
	if noSandbox {
		args = append(args, "--no-sandbox", "--disable-setuid-sandbox")
	}
	if runtime.GOOS == "linux" {
		args = append(args, "--disable-dev-shm-usage")
	}
	return append(args, extra...)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
