package executor

import (
	"strconv"

	"github.com/maxdata-sh/max-sub001/internal/taskstore"
	"github.com/maxdata-sh/max-sub001/pkg/plan"
)

// materialize walks p once, producing the TaskTemplates enqueueGraph will
// insert atomically (§4.4 step 2). Sequential siblings chain via
// BlockedByTemp; a concurrent group becomes a sync-group template whose
// children share it as ParentTemp with no blockedBy amongst themselves.
// A group that follows another step carries that step as BlockedByTemp,
// and so does each of its children, so they start only once it is done.
func materialize(syncID string, p plan.Plan) []taskstore.Template {
	var templates []taskstore.Template
	counter := 0
	prevTemp := ""

	for _, step := range p.Steps {
		stepTemplates, rootTemp := convertStep(step, "", prevTemp, &counter)
		templates = append(templates, stepTemplates...)
		prevTemp = rootTemp
	}

	for i := range templates {
		templates[i].SyncID = syncID
	}
	return templates
}

// convertStep renders one Step (and, for a Concurrent step, its children)
// into Templates, returning the tempID a sibling step should name as its
// own BlockedByTemp.
func convertStep(step plan.Step, parentTemp, blockedByTemp string, counter *int) (templates []taskstore.Template, rootTemp string) {
	tempID := nextTempID(counter)

	if step.Kind == plan.Concurrent {
		group := taskstore.Template{
			TempID:        tempID,
			ParentTemp:    parentTemp,
			BlockedByTemp: blockedByTemp,
			State:         taskstore.StateAwaitingChildren,
			Payload:       taskstore.Payload{Kind: taskstore.PayloadSyncGroup},
		}
		templates = append(templates, group)
		for _, child := range step.Children {
			childTemplates, _ := convertStep(child, tempID, blockedByTemp, counter)
			templates = append(templates, childTemplates...)
		}
		return templates, tempID
	}

	state := taskstore.StatePending
	if blockedByTemp != "" {
		state = taskstore.StateNew
	}
	templates = append(templates, taskstore.Template{
		TempID:        tempID,
		ParentTemp:    parentTemp,
		BlockedByTemp: blockedByTemp,
		State:         state,
		Payload:       stepPayload(step),
	})
	return templates, tempID
}

// stepPayload converts a leaf Step's ref/entityType + operation into the
// sync-step Payload the runner dispatches on.
func stepPayload(step plan.Step) taskstore.Payload {
	var target taskstore.RefTarget
	switch step.Kind {
	case plan.ForAll:
		target = taskstore.RefTarget{IsAll: true, EntityType: step.EntityType}
	default: // ForRoot, ForOne
		target = taskstore.RefTarget{RefKey: step.Ref.Key()}
	}

	p := taskstore.Payload{Kind: taskstore.PayloadSyncStep, Target: target}
	if step.Op.Kind == plan.LoadCollection {
		p.OpIsCollection = true
		p.Field = step.Op.Field
	} else {
		p.Fields = step.Op.Fields
	}
	return p
}

func nextTempID(counter *int) string {
	*counter++
	return "t" + strconv.Itoa(*counter)
}
