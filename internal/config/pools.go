package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wangyiting19871016-commits/fudaiai-sub001/internal/model"
)

// PoolsFile is the on-disk catalog of generation workflows and the template
// assets they draw from.
type PoolsFile struct {
	Workflows []model.WorkflowOption `yaml:"workflows"`
	Templates model.TemplatePools    `yaml:"templates"`
}

// LoadPools reads and validates the workflow/template catalog at path.
func LoadPools(path string) (PoolsFile, error) {
	var pools PoolsFile

	data, err := os.ReadFile(path)
	if err != nil {
		return pools, fmt.Errorf("read pools %s: %w", path, err)
	}

	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&pools); err != nil {
		return pools, fmt.Errorf("parse pools %s: %w", path, err)
	}

	if err := validatePools(pools); err != nil {
		return pools, fmt.Errorf("invalid pools %s: %w", path, err)
	}
	return pools, nil
}

func validatePools(pools PoolsFile) error {
	seen := make(map[string]bool, len(pools.Workflows))
	enabled := 0
	for i, wf := range pools.Workflows {
		if wf.ID == "" {
			return fmt.Errorf("workflow %d: missing id", i)
		}
		if seen[wf.ID] {
			return fmt.Errorf("duplicate workflow id %s", wf.ID)
		}
		seen[wf.ID] = true
		if wf.TemplateUUID == "" || wf.WorkflowUUID == "" {
			return fmt.Errorf("workflow %s: missing template_uuid or workflow_uuid", wf.ID)
		}
		if wf.Enabled {
			enabled++
		}
	}
	if len(pools.Workflows) > 0 && enabled == 0 {
		return fmt.Errorf("no workflow is enabled")
	}

	assets := make(map[string]bool)
	for _, pool := range [][]model.TemplateAsset{pools.Templates.Male, pools.Templates.Female} {
		for i, asset := range pool {
			if asset.ID == "" {
				return fmt.Errorf("template %d: missing id", i)
			}
			if assets[asset.ID] {
				return fmt.Errorf("duplicate template id %s", asset.ID)
			}
			assets[asset.ID] = true
			if asset.Location == "" {
				return fmt.Errorf("template %s: missing location", asset.ID)
			}
		}
	}
	return nil
}
