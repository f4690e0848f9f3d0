package extract

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/ipyana/emlearn/util/fileutil"
)

// modelDocument is the JSON form of an estimator: the flat accessor shape
// serialized field by field. Weight matrices keep the inputs x outputs
// orientation of the source ecosystem.
type modelDocument struct {
	Activation    string        `json:"activation"`
	OutActivation string        `json:"out_activation"`
	Coefs         [][][]float64 `json:"coefs"`
	Intercepts    [][]float64   `json:"intercepts"`
}

type fileEstimator struct {
	doc modelDocument
}

func (f fileEstimator) Coefs() [][][]float64      { return f.doc.Coefs }
func (f fileEstimator) Intercepts() [][]float64   { return f.doc.Intercepts }
func (f fileEstimator) ActivationName() string    { return f.doc.Activation }
func (f fileEstimator) OutActivationName() string { return f.doc.OutActivation }

// LoadFile reads a JSON model document from path (any scheme fileutil
// understands) and returns it as an estimator ready for FromModel.
func LoadFile(path string) (Estimator, error) {
	data, err := fileutil.ReadFileBytes(path)
	if err != nil {
		return nil, &ExtractionError{Reason: "reading model file " + path, Err: err}
	}
	var doc modelDocument
	if err := jsoniter.Unmarshal(data, &doc); err != nil {
		return nil, &ExtractionError{Reason: "parsing model file " + path, Err: err}
	}
	if len(doc.Coefs) == 0 {
		return nil, &ExtractionError{Reason: "model file " + path + " has no weight matrices"}
	}
	if doc.Activation == "" || doc.OutActivation == "" {
		return nil, &ExtractionError{Reason: "model file " + path + " is missing activation identifiers"}
	}
	return fileEstimator{doc: doc}, nil
}
