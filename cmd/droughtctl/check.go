package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/couchcryptid/drought-forecast-service/internal/artifacts"
	"github.com/couchcryptid/drought-forecast-service/internal/domain"
	"github.com/couchcryptid/drought-forecast-service/internal/inference"
	"github.com/couchcryptid/drought-forecast-service/internal/scaler"
)

type checkArtifactsCmd struct {
	SkipModel bool `name:"skip-model" help:"Do not open the ONNX model (no runtime library needed)."`
}

func (c *checkArtifactsCmd) Run(g *Globals) error {
	return checkArtifacts(os.Stdout, g.paths(), c.SkipModel, inference.InspectONNX)
}

type modelInspector func(modelPath, libPath string) (inference.ModelInfo, error)

// checkArtifacts prints one line per artifact and fails if any required
// artifact could not be read.
func checkArtifacts(w io.Writer, p artifacts.Paths, skipModel bool, inspect modelInspector) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	var failed []string

	cfg, err := artifacts.LoadFeatureConfig(p.FeatureConfigPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		cfg = artifacts.DefaultFeatureConfig()
		fmt.Fprintf(tw, "feature config\t%s\tmissing, using defaults\n", p.FeatureConfigPath())
	case err != nil:
		failed = append(failed, "feature config")
		fmt.Fprintf(tw, "feature config\t%s\tERROR %v\n", p.FeatureConfigPath(), err)
	default:
		fmt.Fprintf(tw, "feature config\t%s\t%d features, sequence length %d\n",
			p.FeatureConfigPath(), len(cfg.Features), domain.WindowLength)
	}
	fmt.Fprintf(tw, "feature order\t\t%s\n", strings.Join(cfg.Names(), ", "))

	for _, s := range []struct{ name, path string }{
		{"scaler X", p.ScalerXPath()},
		{"scaler y", p.ScalerYPath()},
	} {
		std, err := scaler.LoadStandard(s.path)
		if err != nil {
			failed = append(failed, s.name)
			fmt.Fprintf(tw, "%s\t%s\tERROR %v\n", s.name, s.path, err)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.name, s.path, describeScaler(std.Width()))
	}

	if skipModel {
		fmt.Fprintf(tw, "model\t%s\tskipped\n", p.ModelPath())
	} else if info, err := inspect(p.ModelPath(), p.ONNXLibrary); err != nil {
		failed = append(failed, "model")
		fmt.Fprintf(tw, "model\t%s\tERROR %v\n", p.ModelPath(), err)
	} else {
		for _, in := range info.Inputs {
			fmt.Fprintf(tw, "model input\t%s\t%v\n", in.Name, in.Dimensions)
		}
		for _, out := range info.Outputs {
			fmt.Fprintf(tw, "model output\t%s\t%v\n", out.Name, out.Dimensions)
		}
	}

	if err := tw.Flush(); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("unreadable artifacts: %s", strings.Join(failed, ", "))
	}
	return nil
}

func describeScaler(width int) string {
	if width == 1 {
		return "1 column (one mean/scale applied to every feature)"
	}
	return fmt.Sprintf("%d columns (per-feature scaling)", width)
}
