package cli

import (
	"os"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/schollz/progressbar/v3"
)

const spinnerTextWidth = 48

type stopFunc func()

// describeFunc replaces the spinner label. Safe for concurrent use.
type describeFunc func(text string)

func startSpinner(enabled bool, description string) (describeFunc, stopFunc) {
	if !enabled {
		return func(string) {}, func() {}
	}

	bar := progressbar.NewOptions(
		-1,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionThrottle(80*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)

	stopCh := make(chan struct{})
	doneCh := make(chan struct{})

	go func() {
		defer close(doneCh)
		ticker := time.NewTicker(120 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-stopCh:
				_ = bar.Finish()
				return
			case <-ticker.C:
				_ = bar.Add(1)
			}
		}
	}()

	var once sync.Once
	describe := func(text string) {
		bar.Describe(spinnerLabel(description, text))
	}
	stop := func() {
		once.Do(func() {
			close(stopCh)
			<-doneCh
		})
	}
	return describe, stop
}

// spinnerLabel shows the tail of a partial transcript next to the prefix.
func spinnerLabel(prefix, text string) string {
	if text == "" {
		return prefix
	}
	if n := utf8.RuneCountInString(text); n > spinnerTextWidth {
		runes := []rune(text)
		text = "…" + string(runes[n-spinnerTextWidth+1:])
	}
	return prefix + ": " + text
}
