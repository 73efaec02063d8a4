package extraction

import "errors"

// ErrUnknownHandler means a loaded message's story names a handler that is
// not registered. It aborts the whole batch before Stage 6 touches anything
// — unlike handler.ErrUnsupportedContent, which only drops the one message.
var ErrUnknownHandler = errors.New("extraction: message's story names an unregistered handler")
