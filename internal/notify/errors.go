package notify

import "errors"

// ErrNoRedirectLink indicates the notification carries no redirect target.
var ErrNoRedirectLink = errors.New("notification has no redirect link")
