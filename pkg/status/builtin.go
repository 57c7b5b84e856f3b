package status

// Structural statuses. Each START/END pair satisfies
// start.Weight()+1 == end.Weight().
var (
	START        = New("START", -6)
	END          = New("END", -5)
	STARTSECTION = New("STARTSECTION", -4)
	ENDSECTION   = New("ENDSECTION", -3)
	STARTCHECK   = New("STARTCHECK", -2)
	ENDCHECK     = New("ENDCHECK", -1)
)

// Log statuses, in ascending severity.
var (
	DEBUG = New("DEBUG", 0)
	PASS  = New("PASS", 1)
	INFO  = New("INFO", 2)
	SKIP  = New("SKIP", 3)
	WARN  = New("WARN", 4)
	FAIL  = New("FAIL", 5)
	ERROR = New("ERROR", 6)
)

// Structural returns the structural statuses in stream order of their
// opening markers.
func Structural() []*Status {
	return []*Status{START, END, STARTSECTION, ENDSECTION, STARTCHECK, ENDCHECK}
}

// Log returns the built-in log statuses in ascending weight.
func Log() []*Status {
	return []*Status{DEBUG, PASS, INFO, SKIP, WARN, FAIL, ERROR}
}
