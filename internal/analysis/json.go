package analysis

import (
	"encoding/json"

	"github.com/715d/serianalyzer/pkg/jtype"
)

type methodRefJSON struct {
	Key
	Callee       bool         `json:"callee,omitempty"`
	Params       []int        `json:"params,omitempty"`
	ParamReturns []int        `json:"paramReturns,omitempty"`
	ArgTypes     []jtype.Type `json:"argTypes,omitempty"`
	TargetType   jtype.Type   `json:"targetType,omitempty"`
}

func (r *MethodRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(methodRefJSON{
		Key:          r.Key,
		Callee:       r.calleeTaint,
		Params:       r.params.Indices(),
		ParamReturns: r.paramReturns.Indices(),
		ArgTypes:     r.argTypes,
		TargetType:   r.targetType,
	})
}

func (r *MethodRef) UnmarshalJSON(data []byte) error {
	var v methodRefJSON
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = MethodRef{Key: v.Key, calleeTaint: v.Callee, targetType: v.TargetType}
	for _, i := range v.Params {
		r.params.Set(i)
	}
	for _, i := range v.ParamReturns {
		r.paramReturns.Set(i)
	}
	r.SetArgTypes(v.ArgTypes)
	return nil
}
