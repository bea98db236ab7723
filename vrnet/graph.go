package vr

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/awalterschulze/gographviz"
	"github.com/pkg/errors"
)

type stage struct {
	Name   string
	Units  int
	Family Family
	Hidden []int
}

// ToDot renders the stochastic stack: one node per variable, encoder (q) edges going up
// from X and decoder (p) edges coming back down. Invalid configurations are not rendered.
func (conf Config) ToDot() (string, error) {
	if err := conf.Validate(); err != nil {
		return "", err
	}
	g := gographviz.NewGraph()
	if err := g.SetName("G"); err != nil {
		return "", errors.WithStack(err)
	}
	g.SetDir(true)

	stages := []stage{{Name: "X", Units: conf.Features}}
	if L := len(conf.Decoder); L > 0 {
		stages[0].Family = conf.Decoder[L-1].Family
	}
	for l, enc := range conf.Encoder {
		stages = append(stages, stage{
			Name:   fmt.Sprintf("z%d", l+1),
			Units:  enc.Units,
			Family: enc.Family,
			Hidden: enc.Hidden,
		})
	}

	var buf bytes.Buffer
	for _, s := range stages {
		tmpl.Execute(&buf, s)
		attrs := map[string]string{
			"fontname": "Monaco",
			"shape":    "none",
			"label":    buf.String(),
		}
		g.AddNode("G", s.Name, attrs)
		buf.Reset()
	}

	L := conf.Layers()
	for l := 0; l < L; l++ {
		from, to := stages[l].Name, stages[l+1].Name
		g.AddEdge(from, to, true, map[string]string{"label": fmt.Sprintf("%q", "q")})
	}
	for l, dec := range conf.Decoder {
		from, to := stages[L-l].Name, stages[L-l-1].Name
		attrs := map[string]string{
			"label": fmt.Sprintf("%q", fmt.Sprintf("p %v", dec.Hidden)),
			"style": "dashed",
		}
		g.AddEdge(from, to, true, attrs)
	}
	return g.String(), nil
}

const tmplRaw = `<
<TABLE BORDER="0" CELLBORDER="1" CELLSPACING="0">
<TR><TD>Variable</TD><TD>{{.Name}}</TD></TR>
<TR><TD>Units</TD><TD>{{.Units}}</TD></TR>
<TR><TD>Family</TD><TD>{{.Family}}</TD></TR>
<TR><TD>Hidden</TD><TD>{{.Hidden}}</TD></TR>
</TABLE>
>
`

var tmpl *template.Template

func init() {
	tmpl = template.Must(template.New("name").Parse(tmplRaw))
}
