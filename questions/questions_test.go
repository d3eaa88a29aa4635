package questions

import "testing"

func TestOptions(t *testing.T) {
	q := Question{OptionA: "one", OptionB: "two", OptionC: "three", OptionD: "four"}
	opts := q.Options()
	if opts["A"] != "one" || opts["B"] != "two" || opts["C"] != "three" || opts["D"] != "four" {
		t.Errorf("Options() = %+v, unexpected mapping", opts)
	}
}
