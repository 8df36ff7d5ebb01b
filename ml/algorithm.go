package ml

import (
	"fmt"
	"strings"
)

// Algorithm names one loss/solver combination. Its Tag keys checkpoints.
type Algorithm struct {
	Tag       string
	Kind      LossKind
	Iterative bool
}

var (
	ClosedFormLS = Algorithm{Tag: "LS", Kind: MeanSquaredError}
	GradientLS   = Algorithm{Tag: "GDLS", Kind: MeanSquaredError, Iterative: true}
	GradientHL   = Algorithm{Tag: "GDHL", Kind: Hinge, Iterative: true}
)

func LookupAlgorithm(tag string) (Algorithm, error) {
	want := strings.ToUpper(strings.TrimSpace(tag))
	tags := make([]string, 0, 3)
	for _, algo := range Algorithms() {
		if algo.Tag == want {
			return algo, nil
		}
		tags = append(tags, algo.Tag)
	}
	return Algorithm{}, fmt.Errorf("unsupported algorithm %q (want one of %s)", tag, strings.Join(tags, ", "))
}

// Algorithms lists the supported algorithms in the order they are documented.
func Algorithms() []Algorithm {
	return []Algorithm{ClosedFormLS, GradientLS, GradientHL}
}
