package dash

import (
	"dash-resolver/internal/manifest"
)

// indexPlan is the outcome of resolving one representation's addressing:
// a deferred index constructor plus the init-segment reference, if any.
type indexPlan struct {
	factory func() (manifest.SegmentIndex, error)
	init    *manifest.InitSegmentReference
}

// buildIndexPlan resolves the representation's addressing mode and
// dispatches to the per-mode builder. With no addressing element visible
// at any level, the representation's base URL is treated as one segment
// spanning the period.
func buildIndexPlan(pc *periodContext, periodFrame, as, rep *frame, cfg *Config) (*indexPlan, error) {
	mode, chain := pickAddressing(rep, as, periodFrame)
	info, err := parseSegmentInfo(chain, pc)
	if err != nil {
		return nil, err
	}

	switch mode {
	case addrSegmentBase:
		return buildSegmentBase(pc, rep, info, cfg)
	case addrSegmentList:
		return buildSegmentList(pc, rep, chain, info, cfg)
	case addrSegmentTemplate:
		return buildSegmentTemplate(pc, rep, info, cfg)
	}

	periodStart, periodEnd := pc.start, pc.end()
	ref := &manifest.SegmentReference{
		StartTime:         periodStart,
		EndTime:           periodEnd,
		URIs:              rep.baseURIs,
		TimestampOffset:   periodStart,
		AppendWindowStart: periodStart,
		AppendWindowEnd:   periodEnd,
	}
	return &indexPlan{
		factory: func() (manifest.SegmentIndex, error) {
			return manifest.NewReferences([]*manifest.SegmentReference{ref}), nil
		},
	}, nil
}
