package stdlib

import (
	"encoding/json"

	"github.com/thomasrohde/dplang/pkg/evaluator"
)

// parse_json(s) → value. Objects have no DPLang counterpart and read as
// null.
func stdlibParseJSON(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("parse_json", args, 1, 1); err != nil {
		return nil, err
	}
	in, err := stringArg("parse_json", args[0])
	if err != nil {
		return nil, err
	}

	result, err := evaluator.ParseJSONToValue(json.RawMessage(in))
	if err != nil {
		return nil, evaluator.TypeErrorf("parse_json(): %s", err.Error())
	}
	return result, nil
}

// to_json(x) → string
func stdlibToJSON(args []evaluator.Value) (evaluator.Value, error) {
	if err := checkArity("to_json", args, 1, 1); err != nil {
		return nil, err
	}
	b, err := evaluator.ValueToJSON(args[0])
	if err != nil {
		return nil, evaluator.TypeErrorf("to_json(): %s", err.Error())
	}
	return evaluator.NewString(string(b)), nil
}
