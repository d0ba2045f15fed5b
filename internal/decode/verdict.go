package decode

import "encoding/json"

type Verdict int

const (
	None Verdict = iota
	Pass
	Fail
)

var verdictNames = map[Verdict]string{
	None: "none",
	Pass: "pass",
	Fail: "fail",
}

var verdictFromName = map[string]Verdict{
	"none": None,
	"pass": Pass,
	"fail": Fail,
}

func (v Verdict) String() string {
	if s, ok := verdictNames[v]; ok {
		return s
	}
	return "unknown"
}

// Label is the operator-facing text: PASS, FAIL or empty before any read.
func (v Verdict) Label() string {
	switch v {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	}
	return ""
}

// Positive reports whether the verdict should be shown in the success colour.
func (v Verdict) Positive() bool {
	return v == Pass
}

func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.String())
}

func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if x, ok := verdictFromName[s]; ok {
		*v = x
	}
	return nil
}
