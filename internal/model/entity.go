package model

import "time"

// Property types supported by the generic data layer
const (
	PropertyText        = "text"
	PropertyNumber      = "number"
	PropertyBoolean     = "boolean"
	PropertyDate        = "date"
	PropertyEmail       = "email"
	PropertyURL         = "url"
	PropertySelect      = "select"
	PropertyMultiSelect = "multiSelect"
)

// PropertyTypes lists every valid property type
var PropertyTypes = []string{
	PropertyText, PropertyNumber, PropertyBoolean, PropertyDate,
	PropertyEmail, PropertyURL, PropertySelect, PropertyMultiSelect,
}

// Entity is an admin-defined record type, e.g. "contact"
type Entity struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Name        string     `json:"name" gorm:"type:varchar(50);uniqueIndex;not null"`
	Slug        string     `json:"slug" gorm:"type:varchar(50);uniqueIndex;not null"`
	Title       string     `json:"title" gorm:"type:varchar(100);not null"`
	TitlePlural string     `json:"title_plural" gorm:"type:varchar(100);not null"`
	Prefix      string     `json:"prefix" gorm:"type:varchar(5);uniqueIndex;not null"`
	Description string     `json:"description" gorm:"type:text"`
	HasAPI      bool       `json:"has_api" gorm:"default:true"`
	Active      bool       `json:"active" gorm:"default:true"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	Properties  []Property `json:"properties" gorm:"foreignKey:EntityID"`
}

// Property returns the property called name
func (e *Entity) Property(name string) *Property {
	for i := range e.Properties {
		if e.Properties[i].Name == name {
			return &e.Properties[i]
		}
	}
	return nil
}

// PropertyByID returns the property with the given id
func (e *Entity) PropertyByID(id uint) *Property {
	for i := range e.Properties {
		if e.Properties[i].ID == id {
			return &e.Properties[i]
		}
	}
	return nil
}

// Property is a typed field of an entity
type Property struct {
	ID         uint             `json:"id" gorm:"primaryKey"`
	EntityID   uint             `json:"entity_id" gorm:"uniqueIndex:idx_entity_property;not null"`
	Name       string           `json:"name" gorm:"type:varchar(50);uniqueIndex:idx_entity_property;not null"`
	Title      string           `json:"title" gorm:"type:varchar(100);not null"`
	Type       string           `json:"type" gorm:"type:varchar(20);not null"`
	Order      int              `json:"order" gorm:"column:sort_order;not null;default:0"`
	IsRequired bool             `json:"is_required" gorm:"default:false"`
	IsHidden   bool             `json:"is_hidden" gorm:"default:false"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
	Options    []PropertyOption `json:"options,omitempty" gorm:"foreignKey:PropertyID"`
}

// HasOption reports whether value is one of the property options
func (p *Property) HasOption(value string) bool {
	for _, o := range p.Options {
		if o.Value == value {
			return true
		}
	}
	return false
}

// PropertyOption is a choice of a select or multiSelect property
type PropertyOption struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	PropertyID uint   `json:"property_id" gorm:"index;not null"`
	Value      string `json:"value" gorm:"type:varchar(100);not null"`
	Name       string `json:"name" gorm:"type:varchar(100)"`
	Order      int    `json:"order" gorm:"column:sort_order;not null;default:0"`
}
