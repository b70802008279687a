package systray

import (
	"fmt"
	"os/exec"
	"runtime"

	"ledlink-node/internal/logger"

	"fyne.io/systray"
)

// Menu wires tray items to the node.
type Menu struct {
	StatusURL func() string
	LedOn     func() (string, error)
	LedOff    func() (string, error)
	Toggle    func() string
}

// Run blocks running the tray. onStart runs once the tray is ready and
// onExit when it is torn down.
func Run(onStart, onExit func(), iconData []byte, m Menu) {
	systray.Run(func() { onReady(onStart, iconData, m) }, func() {
		logger.Info("Exiting application.")
		if onExit != nil {
			onExit()
		}
	})
}

// Quit asks the tray to shut down.
func Quit() {
	systray.Quit()
}

func onReady(onStart func(), iconData []byte, m Menu) {
	systray.SetIcon(iconData)
	systray.SetTitle("LedLink Node")
	systray.SetTooltip("LedLink Node is running")

	mStatus := systray.AddMenuItem("Open Status Page", "Open the LED status page")
	systray.AddSeparator()
	mOn := systray.AddMenuItem("LED On", "Switch the LED on")
	mOff := systray.AddMenuItem("LED Off", "Switch the LED off")
	mToggle := systray.AddMenuItem("Toggle Remote", "Toggle the serial peer")
	systray.AddSeparator()
	mQuit := systray.AddMenuItem("Exit", "Quit the application")

	// Start the main application logic in a goroutine.
	go onStart()

	// Handle menu clicks.
	go func() {
		for {
			select {
			case <-mStatus.ClickedCh:
				openBrowser(m.StatusURL())
			case <-mOn.ClickedCh:
				if _, err := m.LedOn(); err != nil {
					logger.Error("Tray: failed to switch LED on: %v", err)
				}
			case <-mOff.ClickedCh:
				if _, err := m.LedOff(); err != nil {
					logger.Error("Tray: failed to switch LED off: %v", err)
				}
			case <-mToggle.ClickedCh:
				logger.Info("Tray: serial toggle answered %s", m.Toggle())
			case <-mQuit.ClickedCh:
				Quit()
				return
			}
		}
	}()
}

// openBrowser opens the specified URL in the default browser.
func openBrowser(url string) {
	var err error
	switch runtime.GOOS {
	case "linux":
		err = exec.Command("xdg-open", url).Start()
	case "windows":
		err = exec.Command("rundll32", "url.dll,FileProtocolHandler", url).Start()
	case "darwin":
		err = exec.Command("open", url).Start()
	default:
		err = fmt.Errorf("unsupported platform")
	}
	if err != nil {
		logger.Error("Failed to open browser: %v", err)
	}
}
