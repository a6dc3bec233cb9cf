package health

import (
	"context"
	"errors"
	"fmt"
)

// LiveProvider reports whether the live voice endpoint is configured. It
// does not dial: a readiness check must not open billable sessions.
func LiveProvider(name, apiKey string) Checker {
	return Checker{
		Name: "live_provider",
		Check: func(context.Context) error {
			switch {
			case name == "":
				return errors.New("no live provider configured")
			case apiKey == "":
				return fmt.Errorf("%s: api key missing", name)
			}
			return nil
		},
	}
}

// Settings reports whether the teacher settings currently loaded are valid.
// validate is typically a closure over the settings store.
func Settings(validate func() error) Checker {
	return Checker{
		Name: "settings",
		Check: func(context.Context) error {
			if validate == nil {
				return errors.New("settings not loaded")
			}
			return validate()
		},
	}
}
