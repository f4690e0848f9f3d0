// Package codegen turns a validated network into one self-contained C99
// translation unit: weight tables, a reentrant forward pass, and two fixed
// entry points for raw scores and decisions. Output is byte-identical for
// identical inputs so downstream builds stay reproducible.
package codegen

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/ipyana/emlearn/nn"
)

// DefaultPrefix namespaces the generated symbols when no prefix is set.
const DefaultPrefix = "emnet"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config adjusts code generation.
type Config struct {
	// Prefix namespaces every symbol and macro in the unit. It must be a
	// valid C identifier; empty selects DefaultPrefix.
	Prefix string
}

// GenerationError reports a network that cannot be turned into code, or an
// internal emission failure.
type GenerationError struct {
	Reason string
	Err    error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("code generation failed: %s: %s", e.Reason, e.Err)
	}
	return fmt.Sprintf("code generation failed: %s", e.Reason)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// SymbolPredict is the exported decision entry point for a prefix.
func SymbolPredict(prefix string) string {
	return prefix + "_predict"
}

// SymbolPredictProba is the exported raw-score entry point for a prefix.
func SymbolPredictProba(prefix string) string {
	return prefix + "_predict_proba"
}

// MainMacro guards the generated self-test main; defining it at compile time
// turns the unit into a standalone row-by-row evaluator.
func MainMacro(prefix string) string {
	return strings.ToUpper(prefix) + "_MAIN"
}

// Generate emits the C unit for a validated network.
func Generate(network *nn.Network, cfg Config) ([]byte, error) {
	if network == nil {
		return nil, &GenerationError{Reason: "network is nil"}
	}
	if err := network.Validate(); err != nil {
		return nil, &GenerationError{Reason: "invalid network", Err: err}
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if !identifierPattern.MatchString(prefix) {
		return nil, &GenerationError{Reason: fmt.Sprintf("prefix %q is not a valid C identifier", prefix)}
	}

	g := &generator{network: network, prefix: prefix, macro: strings.ToUpper(prefix)}
	return g.emit(), nil
}

type generator struct {
	out     strings.Builder
	network *nn.Network
	prefix  string
	macro   string
}

func (g *generator) emit() []byte {
	g.header()
	g.macros()
	g.weightTables()
	g.layerTable()
	g.activationHelper()
	g.forward()
	g.entryPoints()
	g.selfTest()
	return []byte(g.out.String())
}

func (g *generator) pf(format string, args ...any) {
	fmt.Fprintf(&g.out, format, args...)
}

func (g *generator) header() {
	n := g.network
	g.pf("/* %s - generated feed-forward inference code. Do not edit. */\n", g.prefix)
	g.pf("/* network: %d inputs, %d outputs, %d layers, %s */\n\n", n.InputDim(), n.OutputDim(), len(n.Layers), n.Task)
	g.pf("#include <math.h>\n#include <stdint.h>\n\n")
}

func (g *generator) macros() {
	n := g.network
	g.pf("#define %s_INPUTS %d\n", g.macro, n.InputDim())
	g.pf("#define %s_OUTPUTS %d\n", g.macro, n.OutputDim())
	g.pf("#define %s_LAYERS %d\n", g.macro, len(n.Layers))
	g.pf("#define %s_MAX_WIDTH %d\n\n", g.macro, n.MaxWidth())
	g.pf("#define %s_OK 0\n", g.macro)
	g.pf("#define %s_ERR_NULL (-1)\n", g.macro)
	g.pf("#define %s_ERR_INPUT_LENGTH (-2)\n", g.macro)
	g.pf("#define %s_ERR_OUTPUT_LENGTH (-3)\n\n", g.macro)
	for kind := nn.ActivationIdentity; kind <= nn.ActivationSoftmax; kind++ {
		g.pf("#define %s_ACT_%s %d\n", g.macro, strings.ToUpper(kind.String()), int(kind))
	}
	g.pf("\n")
}

func (g *generator) weightTables() {
	for li, layer := range g.network.Layers {
		g.pf("static const float %s_weights_%d[%d] = {\n", g.prefix, li, len(layer.Weights))
		g.floatRows(layer.Weights)
		g.pf("};\n")
		g.pf("static const float %s_bias_%d[%d] = {\n", g.prefix, li, len(layer.Bias))
		g.floatRows(layer.Bias)
		g.pf("};\n\n")
	}
}

// floatRows prints values eight per line, shortest-exact float32 text.
func (g *generator) floatRows(values []float32) {
	for i, v := range values {
		if i%8 == 0 {
			g.pf("    ")
		}
		g.pf("%s,", formatFloat(v))
		if i%8 == 7 || i == len(values)-1 {
			g.pf("\n")
		} else {
			g.pf(" ")
		}
	}
}

func (g *generator) layerTable() {
	g.pf("static const struct {\n")
	g.pf("    const float *weights;\n")
	g.pf("    const float *bias;\n")
	g.pf("    int32_t inputs;\n")
	g.pf("    int32_t outputs;\n")
	g.pf("    int32_t activation;\n")
	g.pf("} %s_layers[%s_LAYERS] = {\n", g.prefix, g.macro)
	for li, layer := range g.network.Layers {
		g.pf("    {%s_weights_%d, %s_bias_%d, %d, %d, %s_ACT_%s},\n",
			g.prefix, li, g.prefix, li, layer.Inputs, layer.Outputs, g.macro, strings.ToUpper(layer.Activation.String()))
	}
	g.pf("};\n\n")
}

// usedActivations lists the non-identity activation kinds the network needs,
// in enum order.
func (g *generator) usedActivations() []nn.ActivationKind {
	used := map[nn.ActivationKind]bool{}
	for _, layer := range g.network.Layers {
		used[layer.Activation] = true
	}
	var kinds []nn.ActivationKind
	for kind := nn.ActivationReLU; kind <= nn.ActivationSoftmax; kind++ {
		if used[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func (g *generator) activationHelper() {
	kinds := g.usedActivations()
	g.pf("static void %s_apply_activation(int32_t activation, float *values, int32_t n)\n{\n", g.prefix)
	if len(kinds) == 0 {
		g.pf("    (void)activation;\n")
		g.pf("    (void)values;\n")
		g.pf("    (void)n;\n")
		g.pf("}\n\n")
		return
	}
	g.pf("    int32_t i;\n\n")
	g.pf("    switch (activation) {\n")
	for _, kind := range kinds {
		switch kind {
		case nn.ActivationReLU:
			g.pf("    case %s_ACT_RELU:\n", g.macro)
			g.pf("        for (i = 0; i < n; i++) {\n")
			g.pf("            if (values[i] < 0.0f) {\n")
			g.pf("                values[i] = 0.0f;\n")
			g.pf("            }\n")
			g.pf("        }\n")
			g.pf("        break;\n")
		case nn.ActivationTanh:
			g.pf("    case %s_ACT_TANH:\n", g.macro)
			g.pf("        for (i = 0; i < n; i++) {\n")
			g.pf("            values[i] = tanhf(values[i]);\n")
			g.pf("        }\n")
			g.pf("        break;\n")
		case nn.ActivationSigmoid:
			g.pf("    case %s_ACT_SIGMOID:\n", g.macro)
			g.pf("        for (i = 0; i < n; i++) {\n")
			g.pf("            values[i] = 1.0f / (1.0f + expf(-values[i]));\n")
			g.pf("        }\n")
			g.pf("        break;\n")
		case nn.ActivationSoftmax:
			g.pf("    case %s_ACT_SOFTMAX: {\n", g.macro)
			g.pf("        float maxv = values[0];\n")
			g.pf("        float sum = 0.0f;\n\n")
			g.pf("        for (i = 1; i < n; i++) {\n")
			g.pf("            if (values[i] > maxv) {\n")
			g.pf("                maxv = values[i];\n")
			g.pf("            }\n")
			g.pf("        }\n")
			g.pf("        for (i = 0; i < n; i++) {\n")
			g.pf("            values[i] = expf(values[i] - maxv);\n")
			g.pf("            sum += values[i];\n")
			g.pf("        }\n")
			g.pf("        for (i = 0; i < n; i++) {\n")
			g.pf("            values[i] /= sum;\n")
			g.pf("        }\n")
			g.pf("        break;\n")
			g.pf("    }\n")
		}
	}
	g.pf("    default:\n")
	g.pf("        break;\n")
	g.pf("    }\n")
	g.pf("}\n\n")
}

func (g *generator) forward() {
	g.pf("static void %s_forward(const float *in, float *out)\n{\n", g.prefix)
	g.pf("    float bufa[%s_MAX_WIDTH];\n", g.macro)
	g.pf("    float bufb[%s_MAX_WIDTH];\n", g.macro)
	g.pf("    float *cur = bufa;\n")
	g.pf("    float *next = bufb;\n")
	g.pf("    int32_t l, o, i;\n\n")
	g.pf("    for (i = 0; i < %s_INPUTS; i++) {\n", g.macro)
	g.pf("        cur[i] = in[i];\n")
	g.pf("    }\n")
	g.pf("    for (l = 0; l < %s_LAYERS; l++) {\n", g.macro)
	g.pf("        const float *weights = %s_layers[l].weights;\n", g.prefix)
	g.pf("        const int32_t inputs = %s_layers[l].inputs;\n\n", g.prefix)
	g.pf("        for (o = 0; o < %s_layers[l].outputs; o++) {\n", g.prefix)
	g.pf("            float acc = %s_layers[l].bias[o];\n\n", g.prefix)
	g.pf("            for (i = 0; i < inputs; i++) {\n")
	g.pf("                acc += weights[o * inputs + i] * cur[i];\n")
	g.pf("            }\n")
	g.pf("            next[o] = acc;\n")
	g.pf("        }\n")
	g.pf("        %s_apply_activation(%s_layers[l].activation, next, %s_layers[l].outputs);\n", g.prefix, g.prefix, g.prefix)
	g.pf("        {\n")
	g.pf("            float *tmp = cur;\n\n")
	g.pf("            cur = next;\n")
	g.pf("            next = tmp;\n")
	g.pf("        }\n")
	g.pf("    }\n")
	g.pf("    for (i = 0; i < %s_OUTPUTS; i++) {\n", g.macro)
	g.pf("        out[i] = cur[i];\n")
	g.pf("    }\n")
	g.pf("}\n\n")
}

func (g *generator) entryPoints() {
	g.pf("int32_t %s(const float *in, int32_t in_len, float *out, int32_t out_len)\n{\n", SymbolPredictProba(g.prefix))
	g.argChecks(fmt.Sprintf("%s_OUTPUTS", g.macro))
	g.pf("    %s_forward(in, out);\n", g.prefix)
	g.pf("    return %s_OK;\n", g.macro)
	g.pf("}\n\n")

	g.pf("int32_t %s(const float *in, int32_t in_len, float *out, int32_t out_len)\n{\n", SymbolPredict(g.prefix))
	network := g.network
	switch {
	case network.Task == nn.TaskRegressor:
		// regression decisions are the raw outputs
		g.argChecks(fmt.Sprintf("%s_OUTPUTS", g.macro))
		g.pf("    %s_forward(in, out);\n", g.prefix)
		g.pf("    return %s_OK;\n", g.macro)
	case network.Binary():
		g.pf("    float scores[%s_OUTPUTS];\n\n", g.macro)
		g.argChecks("1")
		g.pf("    %s_forward(in, scores);\n", g.prefix)
		g.pf("    out[0] = scores[0] >= 0.5f ? 1.0f : 0.0f;\n")
		g.pf("    return %s_OK;\n", g.macro)
	default:
		g.pf("    float scores[%s_OUTPUTS];\n", g.macro)
		g.pf("    int32_t best = 0;\n")
		g.pf("    int32_t i;\n\n")
		g.argChecks("1")
		g.pf("    %s_forward(in, scores);\n", g.prefix)
		g.pf("    for (i = 1; i < %s_OUTPUTS; i++) {\n", g.macro)
		g.pf("        if (scores[i] > scores[best]) {\n")
		g.pf("            best = i;\n")
		g.pf("        }\n")
		g.pf("    }\n")
		g.pf("    out[0] = (float)best;\n")
		g.pf("    return %s_OK;\n", g.macro)
	}
	g.pf("}\n")
}

// argChecks emits the shared argument validation; minOut is the expression
// out_len must reach.
func (g *generator) argChecks(minOut string) {
	g.pf("    if (in == 0 || out == 0) {\n")
	g.pf("        return %s_ERR_NULL;\n", g.macro)
	g.pf("    }\n")
	g.pf("    if (in_len != %s_INPUTS) {\n", g.macro)
	g.pf("        return %s_ERR_INPUT_LENGTH;\n", g.macro)
	g.pf("    }\n")
	g.pf("    if (out_len < %s) {\n", minOut)
	g.pf("        return %s_ERR_OUTPUT_LENGTH;\n", g.macro)
	g.pf("    }\n")
}

// selfTest emits a main guarded by the prefix main macro: one feature row
// per stdin line, one output line with the decision followed by the raw
// scores. The inline deployment method drives this program.
func (g *generator) selfTest() {
	g.pf("\n#ifdef %s_MAIN\n", g.macro)
	g.pf("#include <stdio.h>\n")
	g.pf("#include <stdlib.h>\n\n")
	g.pf("int main(void)\n{\n")
	g.pf("    char line[65536];\n")
	g.pf("    float features[%s_INPUTS];\n", g.macro)
	g.pf("    float scores[%s_OUTPUTS];\n", g.macro)
	g.pf("    float decision[%s_OUTPUTS];\n\n", g.macro)
	g.pf("    while (fgets(line, sizeof line, stdin) != NULL) {\n")
	g.pf("        char *cursor = line;\n")
	g.pf("        char *end = cursor;\n")
	g.pf("        int32_t n = 0;\n")
	g.pf("        int32_t i;\n")
	g.pf("        int32_t rc;\n\n")
	g.pf("        while (n < %s_INPUTS) {\n", g.macro)
	g.pf("            float v = strtof(cursor, &end);\n\n")
	g.pf("            if (end == cursor) {\n")
	g.pf("                break;\n")
	g.pf("            }\n")
	g.pf("            features[n++] = v;\n")
	g.pf("            cursor = end;\n")
	g.pf("        }\n")
	g.pf("        if (n == 0) {\n")
	g.pf("            continue;\n")
	g.pf("        }\n")
	g.pf("        if (n != %s_INPUTS) {\n", g.macro)
	g.pf("            fprintf(stderr, \"expected %%d features, got %%d\\n\", (int)%s_INPUTS, (int)n);\n", g.macro)
	g.pf("            return 2;\n")
	g.pf("        }\n")
	g.pf("        rc = %s(features, %s_INPUTS, decision, %s_OUTPUTS);\n", SymbolPredict(g.prefix), g.macro, g.macro)
	g.pf("        if (rc != %s_OK) {\n", g.macro)
	g.pf("            fprintf(stderr, \"predict failed: %%d\\n\", (int)rc);\n")
	g.pf("            return 2;\n")
	g.pf("        }\n")
	g.pf("        rc = %s(features, %s_INPUTS, scores, %s_OUTPUTS);\n", SymbolPredictProba(g.prefix), g.macro, g.macro)
	g.pf("        if (rc != %s_OK) {\n", g.macro)
	g.pf("            fprintf(stderr, \"predict_proba failed: %%d\\n\", (int)rc);\n")
	g.pf("            return 2;\n")
	g.pf("        }\n")
	g.pf("        printf(\"%%.9g\", (double)decision[0]);\n")
	g.pf("        for (i = 0; i < %s_OUTPUTS; i++) {\n", g.macro)
	g.pf("            printf(\" %%.9g\", (double)scores[i]);\n")
	g.pf("        }\n")
	g.pf("        printf(\"\\n\");\n")
	g.pf("    }\n")
	g.pf("    return 0;\n")
	g.pf("}\n")
	g.pf("#endif /* %s_MAIN */\n", g.macro)
}

// formatFloat renders a float32 as the shortest C literal that parses back
// to the same value.
func formatFloat(v float32) string {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INFINITY"
	case math.IsInf(f, -1):
		return "-INFINITY"
	}
	return strconv.FormatFloat(f, 'e', -1, 32) + "f"
}
