package shareddoc

import (
	"fmt"
	"time"

	"github.com/automerge/automerge-go"
)

// ChangeInfo describes one change in the document history and the tab names visible right
// after it was applied.
type ChangeInfo struct {
	Hash    string
	Actor   string
	Seq     uint64
	Message string
	Time    time.Time
	Deps    []string
	Tabs    []string
}

// History returns every change in causal order.
func (d *Document) History() ([]ChangeInfo, error) {
	var out []ChangeInfo
	err := d.read(func(doc *automerge.Doc) error {
		changes, err := doc.Changes()
		if err != nil {
			return fmt.Errorf("failed to generate changes: %w", err)
		}
		out = make([]ChangeInfo, 0, len(changes))
		for _, change := range changes {
			at, err := doc.Fork(change.Hash())
			if err != nil {
				return fmt.Errorf("failed to checkout %s: %w", change.Hash(), err)
			}
			tabs, err := readTabs(at)
			if err != nil {
				return err
			}
			info := ChangeInfo{
				Hash:    change.Hash().String(),
				Actor:   change.ActorID(),
				Seq:     change.ActorSeq(),
				Message: change.Message(),
				Time:    change.Timestamp(),
			}
			for _, dep := range change.Dependencies() {
				info.Deps = append(info.Deps, dep.String())
			}
			for _, t := range tabs {
				info.Tabs = append(info.Tabs, t.Name)
			}
			out = append(out, info)
		}
		return nil
	})
	return out, err
}
