package prompt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	contractx "github.com/tanpawarit/Chative-Learning-Coordinator/agent/contract"
)

func TestLoadPromptSetHasEveryUnit(t *testing.T) {
	t.Parallel()

	set := LoadPromptSet()
	for _, id := range []contractx.UnitID{
		contractx.UnitSales,
		contractx.UnitSupport,
		contractx.UnitComplaints,
		contractx.UnitInquiry,
		contractx.UnitCoordinator,
	} {
		assert.NotEmpty(t, set.For(id), "unit=%s", id)
	}
	assert.Contains(t, set.Classifier, "confidence")
	assert.NotContains(t, set.Classifier, "{", "prompts are rendered as format strings")
	assert.Empty(t, set.For("unknown"))
}
