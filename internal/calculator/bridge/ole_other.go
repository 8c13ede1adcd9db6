//go:build !windows

package bridge

// Supported reports whether this platform has an automation driver.
func Supported() bool { return false }

func platformLauncher() (Application, error) {
	return nil, ErrUnsupportedPlatform
}
