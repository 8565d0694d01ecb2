package catalog

import "strings"

// ColumnKind describes how a laptops column is typed in the record table.
type ColumnKind int

const (
	KindText ColumnKind = iota
	KindBigint
	KindNumeric
	KindBool
	KindTextArray
	KindJSON
)

// Column names of the laptops table.
const (
	ColID               = "id"
	ColName             = "name"
	ColSlug             = "slug"
	ColDescription      = "description"
	ColImageURL         = "imageurl"
	ColGalleryImages    = "galleryimages"
	ColImagePublicID    = "image_public_id"
	ColGalleryPublicIDs = "gallery_public_ids"
	ColPrice            = "price"
	ColInclusions       = "inclusions"
	ColCategories       = "categories"
	ColRAM              = "ram"
	ColStorage          = "storage"
	ColCPU              = "cpu"
	ColDisplayInch      = "display_inch"
	ColCondition        = "condition"
	ColGrade            = "grade"
	ColFeatures         = "features"
	ColInStock          = "in_stock"
)

// RemovedPublicIDsKey lists assets the client dropped while editing. It is
// consumed by the asset manager and never written to the table.
const RemovedPublicIDsKey = "removed_public_ids"

// Columns maps every known column to its kind.
var Columns = map[string]ColumnKind{
	ColID:               KindBigint,
	ColName:             KindText,
	ColSlug:             KindText,
	ColDescription:      KindText,
	ColImageURL:         KindText,
	ColGalleryImages:    KindJSON,
	ColImagePublicID:    KindText,
	ColGalleryPublicIDs: KindTextArray,
	ColPrice:            KindNumeric,
	ColInclusions:       KindTextArray,
	ColCategories:       KindTextArray,
	ColRAM:              KindText,
	ColStorage:          KindText,
	ColCPU:              KindText,
	ColDisplayInch:      KindNumeric,
	ColCondition:        KindText,
	ColGrade:            KindText,
	ColFeatures:         KindJSON,
	ColInStock:          KindBool,
}

// fieldMap renames client field names to columns. Lookup is case-sensitive.
var fieldMap = map[string]string{
	"id":               ColID,
	"name":             ColName,
	"slug":             ColSlug,
	"description":      ColDescription,
	"imageUrl":         ColImageURL,
	"galleryImages":    ColGalleryImages,
	"imagePublicId":    ColImagePublicID,
	"galleryPublicIds": ColGalleryPublicIDs,
	"price":            ColPrice,
	"inclusions":       ColInclusions,
	"categories":       ColCategories,
	"ram":              ColRAM,
	"storage":          ColStorage,
	"cpu":              ColCPU,
	"displayInch":      ColDisplayInch,
	"condition":        ColCondition,
	"grade":            ColGrade,
	"features":         ColFeatures,
	"inStock":          ColInStock,
}

// ColumnFor returns the column a client field maps to. Fields missing from
// the table fall back to their lower-cased name; known reports whether that
// name is a laptops column.
func ColumnFor(field string) (column string, known bool) {
	if col, ok := fieldMap[field]; ok {
		return col, true
	}
	column = strings.ToLower(field)
	_, known = Columns[column]
	return column, known
}

// UnknownFieldPolicy decides what happens to payload keys that do not map to
// a known column.
type UnknownFieldPolicy string

const (
	// UnknownDrop removes unknown keys and reports them.
	UnknownDrop UnknownFieldPolicy = "drop"
	// UnknownReject fails normalization with *UnknownFieldsError.
	UnknownReject UnknownFieldPolicy = "reject"
	// UnknownPassthrough writes unknown keys under their lower-cased name.
	UnknownPassthrough UnknownFieldPolicy = "passthrough"
)

// ParseUnknownFieldPolicy validates a configured policy name.
func ParseUnknownFieldPolicy(s string) (UnknownFieldPolicy, bool) {
	switch p := UnknownFieldPolicy(strings.ToLower(s)); p {
	case UnknownDrop, UnknownReject, UnknownPassthrough:
		return p, true
	case "":
		return UnknownDrop, true
	default:
		return "", false
	}
}
