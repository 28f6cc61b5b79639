// Package viz renders the change graph of a shared document for debugging.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/menuroom/pkg/shareddoc"
)

// Label is the node text for one change: short hash, actor@seq, message and the tabs after it.
func Label(c shareddoc.ChangeInfo) string {
	actor := c.Actor
	if len(actor) > 8 {
		actor = actor[:8]
	}
	hash := c.Hash
	if len(hash) > 8 {
		hash = hash[:8]
	}
	return fmt.Sprintf("%s %s@%d %s [%s]", hash, actor, c.Seq, c.Message, strings.Join(c.Tabs, ", "))
}

func RenderHistoryToSvg(history []shareddoc.ChangeInfo, outputPath string) error {
	g := graphviz.New()
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	nodeMap := make(map[string]*cgraph.Node, len(history))
	edgeCounter := 0
	for _, change := range history {
		n, err := graph.CreateNode(change.Hash)
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(Label(change))
		nodeMap[change.Hash] = n

		for _, dep := range change.Deps {
			parent, ok := nodeMap[dep]
			if !ok {
				continue
			}
			edgeCounter++
			if _, err := graph.CreateEdge(strconv.Itoa(edgeCounter), parent, n); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputPath, err)
	}
	return nil
}

// RenderToTemp renders the document history into a fresh file under the temp dir.
func RenderToTemp(doc *shareddoc.Document) (string, error) {
	history, err := doc.History()
	if err != nil {
		return "", err
	}
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistoryToSvg(history, tf); err != nil {
		return "", err
	}
	return tf, nil
}
