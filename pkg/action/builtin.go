// SPDX-License-Identifier: Apache-2.0
package action

import (
	"context"
	"time"
)

// Echo returns its argument unchanged. Useful for demos and smoke tests.
func Echo() Definition {
	return Definition{
		Name:        "echo",
		Description: "Returns the input text unchanged.",
		Handler: HandlerFunc(func(_ context.Context, arg Argument) (any, error) {
			return arg.Text(), nil
		}),
		Validator: NonEmpty,
	}
}

// Clock reports the current time. A structured argument may carry a
// "timezone" field with an IANA zone name.
func Clock(now func() time.Time) Definition {
	if now == nil {
		now = time.Now
	}
	return Definition{
		Name:        "clock",
		Description: `Returns the current time in RFC 3339. Optional input: {"timezone": "Europe/Madrid"}.`,
		Handler: HandlerFunc(func(_ context.Context, arg Argument) (any, error) {
			t := now()
			if tz := arg.String("timezone"); tz != "" {
				loc, err := time.LoadLocation(tz)
				if err != nil {
					return nil, err
				}
				t = t.In(loc)
			}
			return t.Format(time.RFC3339), nil
		}),
		NoCache: true,
	}
}
