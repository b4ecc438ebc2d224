package status

// FatalHandler is the platform hook for unrecoverable faults.
// Implementations must not return: they abort, trap, or panic.
type FatalHandler func(msg string)

// FatalError is the panic value raised by PanicHandler and by Fatal when a
// handler breaks its contract and returns.
type FatalError struct {
	Msg string
}

func (e *FatalError) Error() string {
	return "uavcan: fatal: " + e.Msg
}

// PanicHandler is the default FatalHandler. It panics with *FatalError.
func PanicHandler(msg string) {
	panic(&FatalError{Msg: msg})
}

// Fatal invokes h (PanicHandler if nil). Control never returns to the caller:
// if h returns, Fatal panics with *FatalError.
func Fatal(h FatalHandler, msg string) {
	if h == nil {
		h = PanicHandler
	}
	h(msg)
	panic(&FatalError{Msg: "fatal handler returned: " + msg})
}
