// SPDX-License-Identifier: Apache-2.0
package action

import "unicode/utf8"

// NonEmpty rejects empty or whitespace-only arguments.
func NonEmpty(arg Argument) bool {
	return !arg.IsEmpty()
}

// MaxLength rejects arguments whose text form exceeds n runes.
func MaxLength(n int) Validator {
	return func(arg Argument) bool {
		return utf8.RuneCountInString(arg.Text()) <= n
	}
}

// RequireKeys accepts structured arguments containing every key.
func RequireKeys(keys ...string) Validator {
	return func(arg Argument) bool {
		if !arg.IsStructured() {
			return false
		}
		for _, k := range keys {
			if _, ok := arg.Get(k); !ok {
				return false
			}
		}
		return true
	}
}

// All accepts an argument only if every validator does. Nil entries are skipped.
func All(validators ...Validator) Validator {
	return func(arg Argument) bool {
		for _, v := range validators {
			if v != nil && !v(arg) {
				return false
			}
		}
		return true
	}
}
