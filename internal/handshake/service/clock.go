package service

import "time"

// Clock returns the current time. The zero value is time.Now, so services
// built as struct literals need not set one; tests inject a fake.
type Clock func() time.Time

// Now returns the current time.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now()
	}
	return c()
}
