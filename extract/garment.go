package extract

import (
	"regexp"
	"strings"

	"github.com/use-agent/prodscrape/models"
)

// garmentKeywords maps category vocabulary to garment types. Keywords are
// matched as whole words with an optional plural suffix.
var garmentKeywords = map[models.GarmentType][]string{
	models.GarmentUpper: {
		"shirt", "t-shirt", "tshirt", "tee", "blouse", "top", "tank top", "camisole", "cami",
		"sweater", "jumper", "cardigan", "hoodie", "sweatshirt", "pullover", "knit", "knitwear",
		"jacket", "bomber", "blazer", "coat", "overcoat", "trench", "parka", "puffer", "anorak",
		"gilet", "vest", "waistcoat", "polo", "bodysuit", "crop top", "outerwear", "windbreaker",
		"fleece", "turtleneck", "henley",
	},
	models.GarmentLower: {
		"pant", "pants", "trouser", "jean", "jeans", "denim", "short", "shorts", "skirt",
		"legging", "leggings", "jogger", "joggers", "chino", "chinos", "culotte", "sweatpant",
		"sweatpants", "cargo", "skort",
	},
	models.GarmentFullBody: {
		"dress", "gown", "jumpsuit", "romper", "playsuit", "overall", "overalls", "dungaree",
		"dungarees", "suit", "tracksuit", "swimsuit", "bodycon", "kaftan", "kimono", "onesie",
		"co-ord", "pajama set", "pyjama set",
	},
	models.GarmentShoes: {
		"shoe", "shoes", "sneaker", "trainer", "boot", "boots", "ankle boot", "chelsea boot", "sandal",
		"heel", "heels", "loafer", "pump", "mule", "flat", "flats", "slipper", "espadrille",
		"clog", "footwear", "oxford", "brogue", "slide", "slides", "stiletto", "wedge",
	},
	models.GarmentOther: {
		"bag", "handbag", "tote", "backpack", "clutch", "wallet", "purse", "hat", "cap", "beanie",
		"scarf", "belt", "glove", "gloves", "sunglasses", "watch", "jewelry", "jewellery",
		"necklace", "earring", "bracelet", "ring", "sock", "socks", "tie", "accessory",
		"accessories", "underwear", "bra", "brief", "boxer", "lingerie",
	},
}

type garmentPattern struct {
	kind models.GarmentType
	re   *regexp.Regexp
}

var garmentPatterns = buildGarmentPatterns()

func buildGarmentPatterns() []garmentPattern {
	order := []models.GarmentType{
		models.GarmentShoes, models.GarmentFullBody, models.GarmentLower,
		models.GarmentUpper, models.GarmentOther,
	}
	var out []garmentPattern
	for _, kind := range order {
		words := make([]string, 0, len(garmentKeywords[kind]))
		for _, w := range garmentKeywords[kind] {
			words = append(words, regexp.QuoteMeta(w))
		}
		re := regexp.MustCompile(`(?i)\b(?:` + strings.Join(words, "|") + `)(?:s|es)?\b`)
		out = append(out, garmentPattern{kind: kind, re: re})
	}
	return out
}

// ClassifyGarment maps free text (breadcrumbs, category, product name) to a
// garment type. The right-most keyword wins since the head noun of an
// English product name comes last ("Shirt Dress", "Boot-Cut Jeans").
// Unmatched text yields GarmentUnsupported.
func ClassifyGarment(text string) models.GarmentType {
	best, bestEnd := models.GarmentUnsupported, -1
	for _, gp := range garmentPatterns {
		for _, loc := range gp.re.FindAllStringIndex(text, -1) {
			if loc[1] > bestEnd {
				best, bestEnd = gp.kind, loc[1]
			}
		}
	}
	return best
}
