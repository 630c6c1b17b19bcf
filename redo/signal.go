package redo

// Signal is the per-callback visitor result. The decoder stops dispatching
// further callbacks for the current record (and, for Decode, returns
// immediately) as soon as a callback returns Stop, modeled as an explicit
// chained-call enum rather than via exception/panic unwinding.
type Signal bool

const (
	Continue Signal = true
	Stop     Signal = false
)
