package ted

import (
	"sort"

	"github.com/rs/zerolog/log"

	"tedeval/internal/models"
	"tedeval/pkg/cells"
	"tedeval/pkg/solver"
)

// assignment records which (cell, label) pair an indicator variable stands
// for.
type assignment struct {
	cellIndex int
	label     models.Label
}

// program is the integer linear program that selects one label per cell so
// that the number of splits and merges is minimal.
type program struct {
	numVars       int
	numIndicators int

	varTypes    map[int]solver.VarType
	objective   *solver.Objective
	constraints []solver.Constraint

	// labelingByVar maps indicator variables back to their assignment.
	labelingByVar []assignment

	splitsVar int
	mergesVar int
}

// buildProgram translates the cells and their possible labels into variables,
// constraints and objective. Variable numbering is fully determined by the
// cell order and sorted label order, so identical inputs produce identical
// programs.
func buildProgram(cs []*cells.Cell, numVoxels int) *program {
	p := &program{
		varTypes:  make(map[int]solver.VarType),
		objective: solver.NewObjective(),
	}

	// reconstruction labels present on the cells; these must not vanish
	presentRec := make(map[models.Label]struct{})
	// possible label matchings in both directions
	matchesByGt := make(map[models.Label]map[models.Label]struct{})
	matchesByRec := make(map[models.Label]map[models.Label]struct{})

	registerMatch := func(gtLabel, recLabel models.Label) {
		if _, ok := matchesByGt[gtLabel]; !ok {
			matchesByGt[gtLabel] = make(map[models.Label]struct{})
		}
		matchesByGt[gtLabel][recLabel] = struct{}{}
		if _, ok := matchesByRec[recLabel]; !ok {
			matchesByRec[recLabel] = make(map[models.Label]struct{})
		}
		matchesByRec[recLabel][gtLabel] = struct{}{}
	}

	for _, cell := range cs {
		presentRec[cell.RecLabel] = struct{}{}
		for _, l := range cell.PossibleLabels() {
			registerMatch(cell.GTLabel, l)
		}
	}

	indicatorsByRec := make(map[models.Label][]int)
	indicatorsGtToRec := make(map[models.Label]map[models.Label][]int)

	addIndicator := func(v int, cellIndex int, gtLabel, recLabel models.Label) {
		indicatorsByRec[recLabel] = append(indicatorsByRec[recLabel], v)
		if _, ok := indicatorsGtToRec[gtLabel]; !ok {
			indicatorsGtToRec[gtLabel] = make(map[models.Label][]int)
		}
		indicatorsGtToRec[gtLabel][recLabel] = append(indicatorsGtToRec[gtLabel][recLabel], v)
		p.labelingByVar = append(p.labelingByVar, assignment{cellIndex: cellIndex, label: recLabel})
	}

	// indicators for each cell and each possible label of that cell; cells
	// prefer their original label, so alternatives carry a small objective
	// penalty proportional to the cell size
	var variable int
	type weighted struct {
		v    int
		size int
	}
	var alternativeIndicators []weighted

	for cellIndex, cell := range cs {
		begin := variable

		addIndicator(variable, cellIndex, cell.GTLabel, cell.RecLabel)
		variable++

		for _, l := range cell.AlternativeLabels() {
			alternativeIndicators = append(alternativeIndicators, weighted{v: variable, size: cell.Size()})
			addIndicator(variable, cellIndex, cell.GTLabel, l)
			variable++
		}

		// every cell needs exactly one label
		one := solver.NewConstraint(solver.Equal, 1)
		for v := begin; v < variable; v++ {
			one.SetCoefficient(v, 1)
		}
		p.constraints = append(p.constraints, one)
	}
	p.numIndicators = variable

	// reconstruction labels can not disappear
	for _, recLabel := range sortedLabelKeys(presentRec) {
		persist := solver.NewConstraint(solver.GreaterEqual, 1)
		for _, v := range indicatorsByRec[recLabel] {
			persist.SetCoefficient(v, 1)
		}
		p.constraints = append(p.constraints, persist)
	}

	// indicators for each match of a ground-truth label to a reconstruction
	// label
	gtLabels := sortedLabelKeys(matchesByGt)
	matchVars := make(map[models.Label]map[models.Label]int)
	for _, gtLabel := range gtLabels {
		matchVars[gtLabel] = make(map[models.Label]int)
		for _, recLabel := range sortedLabelKeys(matchesByGt[gtLabel]) {
			matchVars[gtLabel][recLabel] = variable
			variable++
		}
	}

	// cell label selection activates its match
	for _, gtLabel := range gtLabels {
		for _, recLabel := range sortedLabelKeys(matchesByGt[gtLabel]) {
			matchVar := matchVars[gtLabel][recLabel]

			// no assignment of gtLabel to recLabel -> match is zero
			noMatch := solver.NewConstraint(solver.GreaterEqual, 0)

			for _, v := range indicatorsGtToRec[gtLabel][recLabel] {
				noMatch.SetCoefficient(v, 1)

				// at least one assignment -> match is one
				activate := solver.NewConstraint(solver.GreaterEqual, 0)
				activate.SetCoefficient(matchVar, 1)
				activate.SetCoefficient(v, -1)
				p.constraints = append(p.constraints, activate)
			}

			noMatch.SetCoefficient(matchVar, -1)
			p.constraints = append(p.constraints, noMatch)
		}
	}

	// split count per ground-truth label
	splitBegin := variable
	for _, gtLabel := range gtLabels {
		splitVar := variable
		variable++
		p.varTypes[splitVar] = solver.Integer

		positive := solver.NewConstraint(solver.GreaterEqual, 0)
		positive.SetCoefficient(splitVar, 1)
		p.constraints = append(p.constraints, positive)

		numSplits := solver.NewConstraint(solver.Equal, -1)
		numSplits.SetCoefficient(splitVar, 1)
		for _, recLabel := range sortedLabelKeys(matchesByGt[gtLabel]) {
			numSplits.SetCoefficient(matchVars[gtLabel][recLabel], -1)
		}
		p.constraints = append(p.constraints, numSplits)
	}
	splitEnd := variable

	// total number of splits
	p.splitsVar = variable
	variable++
	p.varTypes[p.splitsVar] = solver.Integer

	sumOfSplits := solver.NewConstraint(solver.Equal, 0)
	sumOfSplits.SetCoefficient(p.splitsVar, 1)
	for v := splitBegin; v < splitEnd; v++ {
		sumOfSplits.SetCoefficient(v, -1)
	}
	p.constraints = append(p.constraints, sumOfSplits)

	// merge count per reconstruction label. Labels present in the input
	// must be matched at least once (their count is an equality); a label
	// that can only appear through relabeling, such as a newly exposed
	// background sliver, is counted only when it is actually used.
	recLabels := sortedLabelKeys(matchesByRec)
	mergeBegin := variable
	for _, recLabel := range recLabels {
		mergeVar := variable
		variable++
		p.varTypes[mergeVar] = solver.Integer

		positive := solver.NewConstraint(solver.GreaterEqual, 0)
		positive.SetCoefficient(mergeVar, 1)
		p.constraints = append(p.constraints, positive)

		_, present := presentRec[recLabel]
		relation := solver.Equal
		if !present {
			relation = solver.GreaterEqual
		}

		numMerges := solver.NewConstraint(relation, -1)
		numMerges.SetCoefficient(mergeVar, 1)
		for _, gtLabel := range sortedLabelKeys(matchesByRec[recLabel]) {
			numMerges.SetCoefficient(matchVars[gtLabel][recLabel], -1)
		}
		p.constraints = append(p.constraints, numMerges)
	}
	mergeEnd := variable

	// total number of merges
	p.mergesVar = variable
	variable++
	p.varTypes[p.mergesVar] = solver.Integer

	sumOfMerges := solver.NewConstraint(solver.Equal, 0)
	sumOfMerges.SetCoefficient(p.mergesVar, 1)
	for v := mergeBegin; v < mergeEnd; v++ {
		sumOfMerges.SetCoefficient(v, -1)
	}
	p.constraints = append(p.constraints, sumOfMerges)

	p.numVars = variable

	// minimize the number of splits and merges; among equally good
	// solutions, prefer the one that changes the fewest voxels
	p.objective.SetCoefficient(p.splitsVar, 1)
	p.objective.SetCoefficient(p.mergesVar, 1)
	epsilon := 1.0 / (float64(numVoxels) + 1)
	for _, alt := range alternativeIndicators {
		p.objective.SetCoefficient(alt.v, float64(alt.size)*epsilon)
	}

	log.Debug().
		Int("variables", p.numVars).
		Int("indicators", p.numIndicators).
		Int("constraints", len(p.constraints)).
		Int("gt_labels", len(gtLabels)).
		Int("rec_labels", len(recLabels)).
		Msg("built integer linear program")

	return p
}

func sortedLabelKeys[V any](m map[models.Label]V) []models.Label {
	labels := make([]models.Label, 0, len(m))
	for l := range m {
		labels = append(labels, l)
	}
	sort.Slice(labels, func(i, j int) bool { return labels[i] < labels[j] })
	return labels
}
