package history

import "github.com/rtpsmw/rtpsmw/rtpserrors"

// ErrResourceLimit is returned by Insert when a KEEP_ALL cache has reached
// its configured MaxSamples, per the ResourceLimit error kind of spec.md §7.
var ErrResourceLimit = rtpserrors.New(rtpserrors.KindResourceLimit, "history.Insert", nil)
