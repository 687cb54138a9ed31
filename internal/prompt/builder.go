// Package prompt turns a user description into the instruction sent to the
// image model for each sculpting stage.
//
// Stage 4 is generated from scratch. Stages 1-3 are edits of the stage 4
// image: each keeps the camera angle and pose of the reference and relaxes
// the "no detail" constraint a little more than the stage before it.
package prompt

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/lamim/modeleur/internal/config"
	"github.com/lamim/modeleur/internal/util"
	"github.com/lamim/modeleur/pkg/models"
)

// Builder renders stage prompts from pre-parsed templates
type Builder struct {
	withReference map[models.StageID]*template.Template
	final         *template.Template
	fallback      *template.Template
}

// New parses every template up front so Build cannot fail later
func New(templates config.PromptTemplates) (*Builder, error) {
	parse := func(name, src string) (*template.Template, error) {
		t, err := util.ParseTemplate(src)
		if err != nil {
			return nil, fmt.Errorf("prompt template %s: %w", name, err)
		}
		// Probe with a sample so a template referencing unknown fields fails here
		if _, err := util.RenderTemplate(src, data("probe")); err != nil {
			return nil, fmt.Errorf("prompt template %s: %w", name, err)
		}
		return t, nil
	}

	b := &Builder{withReference: make(map[models.StageID]*template.Template, 3)}

	var err error
	for id, src := range map[models.StageID]string{
		models.StageRoughMass: templates.Stage1,
		models.StageBlocking:  templates.Stage2,
		models.StageEmergence: templates.Stage3,
	} {
		if b.withReference[id], err = parse(id.String(), src); err != nil {
			return nil, err
		}
	}
	if b.final, err = parse(models.StageFinal.String(), templates.Stage4); err != nil {
		return nil, err
	}
	if b.fallback, err = parse("fallback", templates.Fallback); err != nil {
		return nil, err
	}

	return b, nil
}

// Default returns a builder over the built-in templates
func Default() *Builder {
	b, err := New(config.PromptTemplates{
		Stage1:   config.GetDefaultStage1Template(),
		Stage2:   config.GetDefaultStage2Template(),
		Stage3:   config.GetDefaultStage3Template(),
		Stage4:   config.GetDefaultStage4Template(),
		Fallback: config.GetDefaultFallbackTemplate(),
	})
	if err != nil {
		panic(fmt.Sprintf("default prompt templates are invalid: %v", err))
	}
	return b
}

// Build returns the instruction for a stage. It is deterministic and total:
// combinations without a dedicated prompt (stage 4 with a reference, stages
// 1-3 without one, unknown stages) get the generic fallback.
func (b *Builder) Build(description string, stage models.StageID, hasReference bool) string {
	t := b.fallback
	switch {
	case hasReference:
		if ref, ok := b.withReference[stage]; ok {
			t = ref
		}
	case stage == models.StageFinal:
		t = b.final
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, data(description)); err != nil {
		// Templates were probed in New with the same data shape
		return fmt.Sprintf("A clay sculpture of %s", description)
	}
	return buf.String()
}

func data(description string) map[string]interface{} {
	return map[string]interface{}{"Description": description}
}
