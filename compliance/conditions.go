package compliance

import (
	"errors"
	"fmt"

	"github.com/mmdatafocus/eventchain/models"
)

type ConditionKind string

const (
	CondObjectRole     ConditionKind = "object_role"
	CondObjectType     ConditionKind = "object_type"
	CondObjectMetadata ConditionKind = "object_metadata"
	CondChainMetadata  ConditionKind = "chain_metadata"
	CondIncomingLink   ConditionKind = "incoming_link"
	CondOutgoingLink   ConditionKind = "outgoing_link"
	CondFullySettled   ConditionKind = "fully_settled"
	CondVerified       ConditionKind = "verified"
	CondFact           ConditionKind = "fact"
	CondAnyOf          ConditionKind = "any_of"
)

// Condition is a closed set of checks over a chain's objects, links and metadata.
// Object conditions narrow by Role and ObjectType when set; link conditions by LinkType.
type Condition struct {
	Kind       ConditionKind        `yaml:"kind"`
	Role       models.ObjectRole    `yaml:"role,omitempty"`
	ObjectType models.ObjectType    `yaml:"object_type,omitempty"`
	LinkType   models.ChainLinkType `yaml:"link_type,omitempty"`
	Key        string               `yaml:"key,omitempty"`
	Fact       string               `yaml:"fact,omitempty"`
	AnyOf      []Condition          `yaml:"any_of,omitempty"`
}

func (c Condition) validate() error {
	if c.Role != "" && !c.Role.IsValid() {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	if c.ObjectType != "" && !c.ObjectType.IsValid() {
		return fmt.Errorf("invalid object type %q", c.ObjectType)
	}
	if c.LinkType != "" && !c.LinkType.IsValid() {
		return fmt.Errorf("invalid link type %q", c.LinkType)
	}
	switch c.Kind {
	case CondObjectRole:
		if c.Role == "" {
			return errors.New("object_role requires role")
		}
	case CondObjectType:
		if c.ObjectType == "" {
			return errors.New("object_type requires object_type")
		}
	case CondObjectMetadata, CondChainMetadata:
		if c.Key == "" {
			return fmt.Errorf("%s requires key", c.Kind)
		}
	case CondFact:
		if c.Fact == "" {
			return errors.New("fact requires fact")
		}
	case CondAnyOf:
		if len(c.AnyOf) == 0 {
			return errors.New("any_of requires at least one condition")
		}
		for _, sub := range c.AnyOf {
			if err := sub.validate(); err != nil {
				return err
			}
		}
	case CondIncomingLink, CondOutgoingLink, CondFullySettled, CondVerified:
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func (c Condition) satisfied(in *Input) bool {
	switch c.Kind {
	case CondObjectRole, CondObjectType:
		for _, o := range in.Objects {
			if c.matchesObject(o) {
				return true
			}
		}
	case CondObjectMetadata:
		for _, o := range in.Objects {
			if c.matchesObject(o) && hasValue(o.Metadata, c.Key) {
				return true
			}
		}
	case CondChainMetadata:
		return hasValue(in.Chain.Metadata, c.Key)
	case CondIncomingLink:
		return c.anyLink(in.Incoming)
	case CondOutgoingLink:
		return c.anyLink(in.Outgoing)
	case CondFullySettled:
		return in.Chain.RemainingAmount.LessThanOrEqual(models.SettlementEpsilon)
	case CondVerified:
		return in.Chain.IsVerified()
	case CondFact:
		return in.Facts[c.Fact]
	case CondAnyOf:
		for _, sub := range c.AnyOf {
			if sub.satisfied(in) {
				return true
			}
		}
	}
	return false
}

func (c Condition) matchesObject(o *models.ChainObject) bool {
	if c.Role != "" && o.Role != c.Role {
		return false
	}
	if c.ObjectType != "" && o.ObjectType != c.ObjectType {
		return false
	}
	return true
}

func (c Condition) anyLink(links []*models.ChainLink) bool {
	for _, l := range links {
		if c.LinkType == "" || l.LinkType == c.LinkType {
			return true
		}
	}
	return false
}

func hasValue(m map[string]any, key string) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return s != ""
	}
	return true
}
