package main

import (
	"os/exec"
	"runtime"
	"strings"

	"github.com/ayusman/mudra/internal/app"
	"github.com/ayusman/mudra/internal/tray"
)

// newTray builds the tray menu for the camera pipeline.
func newTray(pipeline *app.App, rt *services, addr string) *tray.Tray {
	t := tray.New()
	t.OnToggle(func(enabled bool) {
		pipeline.SetEnabled(enabled)
		rt.log.WithField("enabled", enabled).Info("recognition toggled")
	})
	t.OnClear(func() {
		pipeline.State().Reset()
	})
	t.OnOpenUI(func() {
		if err := openBrowser(uiURL(addr)); err != nil {
			rt.log.WithError(err).Warn("failed to open browser")
		}
	})
	return t
}

func uiURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/ui/"
}

func openBrowser(url string) error {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", url).Start()
	case "windows":
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	default:
		return exec.Command("xdg-open", url).Start()
	}
}
