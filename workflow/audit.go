package workflow

import (
	"context"
	"fmt"
	"sort"

	"github.com/mmdatafocus/eventchain/models"
	"github.com/mmdatafocus/eventchain/utils"
	"gorm.io/gorm"
)

type ViolationCode string

const (
	ViolationPrimaryObject  ViolationCode = "PRIMARY_OBJECT"
	ViolationState          ViolationCode = "STATE"
	ViolationOverSettlement ViolationCode = "OVER_SETTLEMENT"
	ViolationPaidAmount     ViolationCode = "PAID_AMOUNT"
	ViolationVersionGap     ViolationCode = "VERSION_GAP"
	ViolationVersionHead    ViolationCode = "VERSION_HEAD"
)

// Violation is one stored row that breaks an invariant the engine maintains on write.
type Violation struct {
	Code         ViolationCode     `json:"code"`
	ChainId      string            `json:"chain_id,omitempty"`
	DocumentType models.ObjectType `json:"document_type,omitempty"`
	DocumentId   string            `json:"document_id,omitempty"`
	Message      string            `json:"message"`
}

// BusinessProfileIds lists every profile that owns a chain or a versioned document.
func (e *Engine) BusinessProfileIds(ctx context.Context) ([]string, error) {
	db := e.DB.WithContext(utils.SetSkipTenantScopeInContext(ctx, true))
	var fromChains, fromHeads []string
	if err := db.Model(&models.Chain{}).Distinct().Pluck("business_profile_id", &fromChains).Error; err != nil {
		return nil, err
	}
	if err := db.Model(&models.DocumentVersionHead{}).Distinct().Pluck("business_profile_id", &fromHeads).Error; err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	ids := make([]string, 0, len(fromChains)+len(fromHeads))
	for _, id := range append(fromChains, fromHeads...) {
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// VerifyInvariants scans the profile in ctx and reports every violation found. It
// never writes.
func (e *Engine) VerifyInvariants(ctx context.Context) ([]Violation, error) {
	profileId, err := requireProfile(ctx)
	if err != nil {
		return nil, err
	}
	db := e.DB.WithContext(utils.SetSkipTenantScopeInContext(ctx, true))

	violations := []Violation{}
	chainViolations, err := checkChains(db, profileId)
	if err != nil {
		return nil, err
	}
	violations = append(violations, chainViolations...)
	versionViolations, err := checkVersions(db, profileId)
	if err != nil {
		return nil, err
	}
	return append(violations, versionViolations...), nil
}

func checkChains(db *gorm.DB, profileId string) ([]Violation, error) {
	var chains []*models.Chain
	if err := db.Where("business_profile_id = ?", profileId).Order("id ASC").Find(&chains).Error; err != nil {
		return nil, err
	}
	var primaries []*models.ChainObject
	err := db.Where("business_profile_id = ? AND role = ?", profileId, models.ObjectRolePrimary).Find(&primaries).Error
	if err != nil {
		return nil, err
	}
	primaryOf := map[string][]*models.ChainObject{}
	for _, o := range primaries {
		primaryOf[o.ChainId] = append(primaryOf[o.ChainId], o)
	}
	var links []*models.ChainLink
	err = db.Where("business_profile_id = ? AND link_type = ?", profileId, models.ChainLinkTypeSettles).Find(&links).Error
	if err != nil {
		return nil, err
	}

	var out []Violation
	for _, c := range chains {
		objs := primaryOf[c.ID]
		switch {
		case len(objs) != 1:
			out = append(out, Violation{Code: ViolationPrimaryObject, ChainId: c.ID,
				Message: fmt.Sprintf("%s has %d primary objects", c.ChainNumber, len(objs))})
		case objs[0].ObjectType != c.PrimaryObjectType || objs[0].ObjectId != c.PrimaryObjectId:
			out = append(out, Violation{Code: ViolationPrimaryObject, ChainId: c.ID,
				Message: fmt.Sprintf("%s primary object %s/%s does not match the chain", c.ChainNumber, objs[0].ObjectType, objs[0].ObjectId)})
		}
		if !models.IsValidState(c.ChainType, c.State) {
			out = append(out, Violation{Code: ViolationState, ChainId: c.ID,
				Message: fmt.Sprintf("%s is in state %q, not valid for %s", c.ChainNumber, c.State, c.ChainType)})
		}
		settled := models.SettledSum(links, c.ID)
		if settled.GreaterThan(c.TotalAmount.Add(models.SettlementEpsilon)) {
			out = append(out, Violation{Code: ViolationOverSettlement, ChainId: c.ID,
				Message: fmt.Sprintf("%s is settled %s over a total of %s", c.ChainNumber, settled, c.TotalAmount)})
		}
		if !settled.IsZero() || !c.PaidAmount.IsZero() {
			if !c.PaidAmount.Equal(settled) || !c.RemainingAmount.Equal(c.TotalAmount.Sub(settled)) {
				out = append(out, Violation{Code: ViolationPaidAmount, ChainId: c.ID,
					Message: fmt.Sprintf("%s stores paid %s remaining %s, links give paid %s", c.ChainNumber,
						c.PaidAmount, c.RemainingAmount, settled)})
			}
		} else if !c.RemainingAmount.Equal(c.TotalAmount) {
			out = append(out, Violation{Code: ViolationPaidAmount, ChainId: c.ID,
				Message: fmt.Sprintf("%s stores remaining %s with nothing settled on %s", c.ChainNumber, c.RemainingAmount, c.TotalAmount)})
		}
	}
	return out, nil
}

type versionRun struct {
	DocumentType models.ObjectType
	DocumentId   string
	Count        int
	MaxNo        int
	MinNo        int
}

func checkVersions(db *gorm.DB, profileId string) ([]Violation, error) {
	var runs []versionRun
	err := db.Model(&models.DocumentVersion{}).
		Select("document_type, document_id, COUNT(*) AS count, MAX(version_no) AS max_no, MIN(version_no) AS min_no").
		Where("business_profile_id = ?", profileId).
		Group("document_type, document_id").
		Order("document_type, document_id").
		Scan(&runs).Error
	if err != nil {
		return nil, err
	}
	var heads []*models.DocumentVersionHead
	if err := db.Where("business_profile_id = ?", profileId).Find(&heads).Error; err != nil {
		return nil, err
	}
	headOf := make(map[[2]string]int, len(heads))
	for _, h := range heads {
		headOf[[2]string{string(h.DocumentType), h.DocumentId}] = h.LastVersionNo
	}

	var out []Violation
	for _, r := range runs {
		if r.MinNo != 1 || r.MaxNo != r.Count {
			out = append(out, Violation{Code: ViolationVersionGap, DocumentType: r.DocumentType, DocumentId: r.DocumentId,
				Message: fmt.Sprintf("%d versions numbered %d..%d", r.Count, r.MinNo, r.MaxNo)})
		}
		if last, ok := headOf[[2]string{string(r.DocumentType), r.DocumentId}]; !ok || last != r.MaxNo {
			out = append(out, Violation{Code: ViolationVersionHead, DocumentType: r.DocumentType, DocumentId: r.DocumentId,
				Message: fmt.Sprintf("head is at %d, latest version is %d", last, r.MaxNo)})
		}
	}
	return out, nil
}
