package networks

import (
	"bytes"
	"encoding/json"
	"errors"
)

// asAPIError returns the error object when body is a JSON object carrying an "error" key.
func asAPIError(body []byte) (*APIError, bool) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, false
	}
	if _, ok := probe["error"]; !ok {
		return nil, false
	}

	var apiErr APIError
	if err := json.Unmarshal(body, &apiErr); err != nil {
		return nil, false
	}

	return &apiErr, true
}

func parseMOTD(op string, body []byte) (*MOTD, error) {
	if apiErr, ok := asAPIError(body); ok {
		return nil, rejectedError(op, apiErr)
	}

	var w struct {
		HTML    looseString `json:"html"`
		Servers looseInt    `json:"servers"`
		Players looseInt    `json:"players"`
	}
	if !isObject(body) {
		return nil, malformedError(op, "expected object", nil)
	}
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, malformedError(op, "decode motd", err)
	}

	return &MOTD{HTML: string(w.HTML), Servers: int(w.Servers), Players: int(w.Players)}, nil
}

// parseServerList decodes `[ [ServerInfo...], {players, total} ]`.
func parseServerList(op string, body []byte) (*ServerList, error) {
	if apiErr, ok := asAPIError(body); ok {
		return nil, rejectedError(op, apiErr)
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, malformedError(op, "expected [servers, metadata] array", err)
	}
	if len(parts) != 2 {
		return nil, malformedError(op, "expected [servers, metadata] array", errors.New("unexpected element count"))
	}

	list := &ServerList{Servers: []ServerInfo{}}
	if !isNull(parts[0]) {
		if err := json.Unmarshal(parts[0], &list.Servers); err != nil {
			return nil, malformedError(op, "decode servers", err)
		}
	}

	if !isObject(parts[1]) {
		return nil, malformedError(op, "metadata is not an object", nil)
	}
	var meta struct {
		Players looseInt `json:"players"`
		Total   looseInt `json:"total"`
	}
	if err := json.Unmarshal(parts[1], &meta); err != nil {
		return nil, malformedError(op, "decode metadata", err)
	}
	list.Metadata = ListMetadata{Players: int(meta.Players), Total: int(meta.Total)}

	return list, nil
}

// parseServerDetails decodes the flat detail object with its numbered player fields.
func parseServerDetails(op string, body []byte) (*ServerDetails, error) {
	if apiErr, ok := asAPIError(body); ok {
		return nil, rejectedError(op, apiErr)
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, malformedError(op, "expected object", err)
	}
	if _, ok := fields["ip"]; !ok {
		return nil, malformedError(op, "missing ip field", nil)
	}

	var details ServerDetails
	if err := json.Unmarshal(body, &details); err != nil {
		return nil, malformedError(op, "decode details", err)
	}

	return &details, nil
}

func isObject(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) > 0 && b[0] == '{'
}

func isNull(b []byte) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
