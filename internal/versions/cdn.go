package versions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// release is one entry of the CDN index response (spec §6.3). Only
// filename/md5/mirrors are ever read; every other field is kept in Raw
// so a server-side addition never breaks decoding.
type release struct {
	Filename string          `json:"filename"`
	MD5      string          `json:"md5"`
	Mirrors  []string        `json:"mirrors"`
	Raw      json.RawMessage `json:"-"`
}

func (r *release) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if v, ok := fields["filename"]; ok {
		if err := json.Unmarshal(v, &r.Filename); err != nil {
			return fmt.Errorf("versions: decoding filename: %w", err)
		}
	}
	if v, ok := fields["md5"]; ok {
		if err := json.Unmarshal(v, &r.MD5); err != nil {
			return fmt.Errorf("versions: decoding md5: %w", err)
		}
	}
	if v, ok := fields["mirrors"]; ok {
		if err := json.Unmarshal(v, &r.Mirrors); err != nil {
			return fmt.Errorf("versions: decoding mirrors: %w", err)
		}
	}
	r.Raw = data
	return nil
}

// findRelease queries the engine index CDN for version (spec §4.5 step
// 2, §6.3) and returns the first matching release descriptor.
func findRelease(ctx context.Context, client *http.Client, cdnBase, version string) (*release, error) {
	q := url.Values{}
	q.Set("category", platformCategory)
	q.Set("springname", version)
	reqURL := fmt.Sprintf("%s/find?%s", cdnBase, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("versions: building CDN request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("versions: querying CDN: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("versions: CDN returned %s: %s", resp.Status, body)
	}

	var releases []release
	if err := json.NewDecoder(resp.Body).Decode(&releases); err != nil {
		return nil, fmt.Errorf("versions: decoding CDN response: %w", err)
	}
	if len(releases) == 0 {
		return nil, fmt.Errorf("versions: no release found for %s/%s", platformCategory, version)
	}
	first := releases[0]
	if first.Filename == "" || first.MD5 == "" || len(first.Mirrors) == 0 {
		return nil, fmt.Errorf("versions: release descriptor missing filename, md5, or mirrors")
	}
	return &first, nil
}
