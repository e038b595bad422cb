package actions

// Table feature names as they appear in protocol feature lists.
const (
	FeatureAppendOnly          = "appendOnly"
	FeatureInvariants          = "invariants"
	FeatureColumnMapping       = "columnMapping"
	FeatureDomainMetadata      = "domainMetadata"
	FeatureRowTracking         = "rowTracking"
	FeatureClustering          = "clusteringColumns"
	FeatureDeletionVectors     = "deletionVectors"
	FeatureTypeWidening        = "typeWidening"
	FeatureTypeWideningPreview = "typeWidening-preview"
	FeatureInCommitTimestamp   = "inCommitTimestamp"
	FeatureIcebergCompatV2     = "icebergCompatV2"
	FeatureIcebergCompatV3     = "icebergCompatV3"
)

// Versions at which the protocol switches to explicit feature lists.
const (
	TableFeaturesMinReaderVersion int32 = 3
	TableFeaturesMinWriterVersion int32 = 7
)

// readerWriterFeatures are features that must appear in both lists when the
// protocol supports table features.
var readerWriterFeatures = map[string]bool{
	FeatureColumnMapping:       true,
	FeatureDeletionVectors:     true,
	FeatureTypeWidening:        true,
	FeatureTypeWideningPreview: true,
}

func IsReaderWriterFeature(feature string) bool {
	return readerWriterFeatures[feature]
}

// DefaultProtocol is the protocol written for tables that need no table
// features.
func DefaultProtocol() *Protocol {
	return &Protocol{MinReaderVersion: 1, MinWriterVersion: 2}
}

// ProtocolWithFeatures returns a table-features protocol carrying the given
// writer features, mirroring reader-writer features into the reader list.
func ProtocolWithFeatures(features ...string) *Protocol {
	p := &Protocol{
		MinReaderVersion: TableFeaturesMinReaderVersion,
		MinWriterVersion: TableFeaturesMinWriterVersion,
	}
	for _, f := range features {
		p = p.WithFeature(f)
	}
	return p
}

// WithFeature returns a protocol that additionally supports the feature.
func (p *Protocol) WithFeature(feature string) *Protocol {
	clone := p.Clone()
	clone.MinReaderVersion = TableFeaturesMinReaderVersion
	clone.MinWriterVersion = TableFeaturesMinWriterVersion
	if !clone.SupportsWriterFeature(feature) {
		clone.WriterFeatures = append(clone.WriterFeatures, feature)
	}
	if IsReaderWriterFeature(feature) && !clone.SupportsReaderFeature(feature) {
		clone.ReaderFeatures = append(clone.ReaderFeatures, feature)
	}
	return clone
}

func IsDomainMetadataSupported(p *Protocol) bool {
	return p.SupportsWriterFeature(FeatureDomainMetadata)
}

func IsRowTrackingSupported(p *Protocol) bool {
	return p.SupportsWriterFeature(FeatureRowTracking)
}

func IsClusteringSupported(p *Protocol) bool {
	return p.SupportsWriterFeature(FeatureClustering)
}
