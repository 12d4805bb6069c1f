package feedback

import "github.com/noah-isme/gema-autograder-api/internal/models"

// TestIndex resolves result rows back to the test definitions they ran.
type TestIndex struct {
	suites   map[uint]models.AGTestSuite
	cases    map[uint]models.AGTestCase
	commands map[uint]models.AGTestCommand
}

// NewTestIndex indexes a project's suites together with their cases and commands.
func NewTestIndex(suites []models.AGTestSuite) TestIndex {
	index := TestIndex{
		suites:   make(map[uint]models.AGTestSuite, len(suites)),
		cases:    make(map[uint]models.AGTestCase),
		commands: make(map[uint]models.AGTestCommand),
	}
	for _, suite := range suites {
		index.suites[suite.ID] = suite
		for _, kase := range suite.Cases {
			index.cases[kase.ID] = kase
			for _, cmd := range kase.Commands {
				index.commands[cmd.ID] = cmd
			}
		}
	}
	return index
}

func (i TestIndex) Suite(id uint) (models.AGTestSuite, bool) {
	suite, ok := i.suites[id]
	return suite, ok
}

func (i TestIndex) Case(id uint) (models.AGTestCase, bool) {
	kase, ok := i.cases[id]
	return kase, ok
}

func (i TestIndex) Command(id uint) (models.AGTestCommand, bool) {
	cmd, ok := i.commands[id]
	return cmd, ok
}
