package txn

import (
	"encoding/json"

	"delta/pkg/actions"
)

// ClusteringDomainName holds the table's clustering spec. The domain is
// system controlled, only the planner and replace reseeding write it.
const ClusteringDomainName = "delta.clustering"

type clusteringConfig struct {
	ClusteringColumns []string `json:"clusteringColumns"`
}

func newClusteringDomain(columns []string) *actions.DomainMetadata {
	if columns == nil {
		columns = []string{}
	}
	raw, _ := json.Marshal(clusteringConfig{ClusteringColumns: columns})
	return &actions.DomainMetadata{Domain: ClusteringDomainName, Configuration: string(raw)}
}

// clusteringColumnsOf parses the clustering spec out of a domain record.
func clusteringColumnsOf(d *actions.DomainMetadata) ([]string, error) {
	var parsed clusteringConfig
	if err := json.Unmarshal([]byte(d.Configuration), &parsed); err != nil {
		return nil, err
	}
	return parsed.ClusteringColumns, nil
}
