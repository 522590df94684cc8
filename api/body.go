package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"tasklist/domain"
)

const maxBodySize = 64 << 10

const msgInvalidBody = "Request body must be a valid JSON object"

var bodyDecoder = sonic.Config{UseNumber: true}.Froze()

var (
	requiredTaskFields = []string{"title", "owner_id"}
	requiredUserFields = []string{"username", "password"}
)

// readObjectBody decodes a request body into a non-empty JSON object.
func readObjectBody(r io.Reader) (map[string]any, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return nil, errors.New(msgInvalidBody)
	}
	var v any
	if err := bodyDecoder.Unmarshal(data, &v); err != nil {
		return nil, errors.New(msgInvalidBody)
	}
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, errors.New(msgInvalidBody)
	}
	return obj, nil
}

// taskPatchFromBody validates body and converts the known fields to a patch.
// With requireAll, title and owner_id must be present and non-empty.
func taskPatchFromBody(body map[string]any, requireAll bool) (domain.TaskPatch, error) {
	var patch domain.TaskPatch

	if requireAll {
		if err := checkRequired(body, requiredTaskFields); err != nil {
			return patch, err
		}
	}

	if v, ok := body["owner_id"]; ok {
		id, err := parseOwnerID(v)
		if err != nil {
			return patch, err
		}
		patch.OwnerID = &id
	}

	for _, f := range []struct {
		name     string
		dst      **string
		nullable bool
	}{
		{"title", &patch.Title, false},
		{"description", &patch.Description, true},
		{"status", &patch.Status, false},
	} {
		v, ok := body[f.name]
		if !ok {
			continue
		}
		if v == nil && f.nullable {
			s := ""
			*f.dst = &s
			continue
		}
		s, isString := v.(string)
		if !isString {
			return patch, fmt.Errorf("%s must be a string", f.name)
		}
		*f.dst = &s
	}
	return patch, nil
}

// userCredentials are the validated username and password of a user body.
type userCredentials struct {
	Username string
	Password string
}

// userCredentialsFromBody requires a non-empty string username and password.
func userCredentialsFromBody(body map[string]any) (userCredentials, error) {
	if err := checkRequired(body, requiredUserFields); err != nil {
		return userCredentials{}, err
	}
	var creds userCredentials
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"username", &creds.Username},
		{"password", &creds.Password},
	} {
		s, ok := body[f.name].(string)
		if !ok {
			return userCredentials{}, fmt.Errorf("%s must be a string", f.name)
		}
		*f.dst = s
	}
	return creds, nil
}

func checkRequired(body map[string]any, fields []string) error {
	var missing, empty []string
	for _, f := range fields {
		v, ok := body[f]
		switch {
		case !ok:
			missing = append(missing, f)
		case isEmptyValue(v):
			empty = append(empty, f)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("Missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(empty) > 0 {
		return fmt.Errorf("Fields cannot be empty: %s", strings.Join(empty, ", "))
	}
	return nil
}

func parseOwnerID(v any) (int64, error) {
	invalid := errors.New("owner_id must be a valid integer")
	switch x := v.(type) {
	case json.Number:
		id, err := x.Int64()
		if err != nil {
			return 0, invalid
		}
		return id, nil
	case string:
		id, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, invalid
		}
		return id, nil
	default:
		return 0, invalid
	}
}

func isEmptyValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case bool:
		return !x
	case json.Number:
		f, err := x.Float64()
		return err == nil && f == 0
	case []any:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	default:
		return false
	}
}
