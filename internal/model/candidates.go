package model

import (
	"fmt"
	"math/rand/v2"
)

// Candidate is a job which can be turned into a task.
type Candidate struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (c Candidate) String() string {
	return fmt.Sprintf("(%s): %s", c.Name, c.Description)
}

var candidates = []Candidate{
	{"Bobson Dugnutt", "Wait for Pokemon cards"},
	{"Sleve McDichael", "Re-attach turbo encabulator"},
	{"Onson Sweemey", "Repaint fence"},
	{"Anatoli Smorin", "Revandalize fence"},
	{"Rey McSriff", "help im trapped in a binary an"},
	{"Glenallen Mixon", "Rehydrate the PDF files"},
	{"Mario McRlwain", "Defragment rubber duck collection"},
	{"Todd Bonzalez", "Uninstall gravity temporarily"},
	{"Dwigt Rortugal", "Calibrate the hydrospanner flux matrix"},
	{"Karl Dandleton", "Reverse-engineer cafeteria meatloaf"},
	{"Mike Truk", "Overclock the toaster (bagels only)"},
	{"Dean Wesrey", "Re-enact fax machine error codes via mime"},
	{"Raul Chamgerlain", "Translate whale songs into Excel formulas"},
	{"Tony Smellme", "Teach office plants about blockchain"},
	{"Jeromy Gride", "Recycle the same oxygen molecule 17 times"},
}

// Candidates returns a copy of the whole catalogue.
func Candidates() []Candidate {
	return append([]Candidate(nil), candidates...)
}

// PickCandidates returns up to n distinct candidates in random order.
func PickCandidates(r *rand.Rand, n int) []Candidate {
	if n > len(candidates) {
		n = len(candidates)
	}
	if n <= 0 {
		return nil
	}
	perm := r.Perm(len(candidates))
	ret := make([]Candidate, n)
	for i := range n {
		ret[i] = candidates[perm[i]]
	}
	return ret
}

// PickCandidate returns a single random candidate.
func PickCandidate(r *rand.Rand) Candidate {
	return candidates[r.IntN(len(candidates))]
}
