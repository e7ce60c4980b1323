package tools

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/wwwzy/EstateAgent/internal/geo"
	"github.com/wwwzy/EstateAgent/internal/storage"
)

var (
	downPaymentRe = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)
	durationRe    = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*(?:years?|yrs?)`)
	distanceRe    = regexp.MustCompile(`(?i)(\d+)\s*minutes?\s*(?:away\s*)?from\s+([^.,;]+)`)
)

// PaymentPlan 是从一段付款方案文本中解析出的结构。
type PaymentPlan struct {
	Raw                string   `json:"raw"`
	DownPaymentPercent *float64 `json:"down_payment_percent,omitempty"`
	DurationYears      *float64 `json:"duration_years,omitempty"`
	DownPaymentAmount  *int64   `json:"down_payment_amount,omitempty"`
	AnnualInstallment  *int64   `json:"annual_installment,omitempty"`
	MonthlyInstallment *int64   `json:"monthly_installment,omitempty"`
}

type PaymentAnalysis struct {
	Plans        []PaymentPlan `json:"plans"`
	LowestDown   *PaymentPlan  `json:"lowest_down_payment,omitempty"`
	ShortestTerm *PaymentPlan  `json:"shortest_term,omitempty"`
	LongestTerm  *PaymentPlan  `json:"longest_term,omitempty"`
}

// splitPlans 拆分以 "|" 分隔的方案列表。
func splitPlans(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, "|") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ParsePaymentPlan 取第一个百分比作为首付比例、第一个年限作为期限。
// price > 0 时同时计算首付金额与分期金额。
func ParsePaymentPlan(text string, price int64) PaymentPlan {
	plan := PaymentPlan{Raw: strings.TrimSpace(text)}
	lower := strings.ToLower(text)
	if m := downPaymentRe.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v <= 100 {
			plan.DownPaymentPercent = &v
		}
	}
	if m := durationRe.FindStringSubmatch(lower); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil && v > 0 {
			plan.DurationYears = &v
		}
	}
	if price > 0 && plan.DownPaymentPercent != nil {
		down := int64(math.Round(float64(price) * *plan.DownPaymentPercent / 100))
		plan.DownPaymentAmount = &down
		if plan.DurationYears != nil {
			annual := int64(math.Round(float64(price-down) / *plan.DurationYears))
			monthly := int64(math.Round(float64(annual) / 12))
			plan.AnnualInstallment = &annual
			plan.MonthlyInstallment = &monthly
		}
	}
	return plan
}

func AnalyzePaymentPlans(raw string, price int64) PaymentAnalysis {
	var a PaymentAnalysis
	for _, text := range splitPlans(raw) {
		a.Plans = append(a.Plans, ParsePaymentPlan(text, price))
	}
	for i := range a.Plans {
		p := &a.Plans[i]
		if p.DownPaymentPercent != nil && (a.LowestDown == nil || *p.DownPaymentPercent < *a.LowestDown.DownPaymentPercent) {
			a.LowestDown = p
		}
		if p.DurationYears != nil {
			if a.ShortestTerm == nil || *p.DurationYears < *a.ShortestTerm.DurationYears {
				a.ShortestTerm = p
			}
			if a.LongestTerm == nil || *p.DurationYears > *a.LongestTerm.DurationYears {
				a.LongestTerm = p
			}
		}
	}
	return a
}

// PriceCategory 按价格区间中点分档。
func PriceCategory(mid int64) string {
	switch {
	case mid < 3_000_000:
		return "Entry-Level"
	case mid < 6_000_000:
		return "Mid-Market"
	default:
		return "Premium"
	}
}

var amenityKeywords = []struct {
	name     string
	keywords []string
}{
	{"golf", []string{"golf course", "golf"}},
	{"beach", []string{"beachfront", "seafront", "beach"}},
	{"pool", []string{"swimming pool", "pools", "pool"}},
	{"gym", []string{"gym", "fitness", "sports center"}},
	{"club", []string{"clubhouse", "social club", "club"}},
	{"medical", []string{"hospital", "clinic", "medical", "healthcare"}},
	{"hotel", []string{"boutique hotel", "hotel"}},
	{"commercial", []string{"commercial", "retail", "shopping", "mall"}},
	{"green", []string{"landscape", "garden", "park", "green"}},
}

// Highlights 是从项目描述中抽取的卖点。
type Highlights struct {
	Amenities []string          `json:"amenities,omitempty"`
	Distances map[string]string `json:"distances,omitempty"`
}

func ExtractHighlights(description string) Highlights {
	var h Highlights
	lower := strings.ToLower(description)
	for _, a := range amenityKeywords {
		for _, kw := range a.keywords {
			if strings.Contains(lower, kw) {
				h.Amenities = append(h.Amenities, a.name)
				break
			}
		}
	}
	for _, m := range distanceRe.FindAllStringSubmatch(description, 3) {
		if h.Distances == nil {
			h.Distances = map[string]string{}
		}
		h.Distances[strings.TrimSpace(m[2])] = m[1] + " minutes"
	}
	return h
}

// projectView 是返回给模型的项目摘要。
type projectView struct {
	Name           string   `json:"name"`
	Developer      string   `json:"developer,omitempty"`
	Location       string   `json:"location"`
	MinPrice       int64    `json:"min_price"`
	MaxPrice       int64    `json:"max_price"`
	PriceRange     string   `json:"price_range"`
	PriceCategory  string   `json:"price_category"`
	PaymentPlans   []string `json:"payment_plans,omitempty"`
	Description    string   `json:"description,omitempty"`
	ThumbnailURL   string   `json:"thumbnail_url,omitempty"`
	Brochures      []string `json:"brochures,omitempty"`
	MapsLink       string   `json:"maps_link,omitempty"`
	AvailableUnits *int64   `json:"available_units,omitempty"`
}

func newProjectView(p storage.Project, descLimit int) projectView {
	v := projectView{
		Name:          p.Name,
		Developer:     p.DeveloperName,
		Location:      p.LocationName,
		MinPrice:      p.MinPrice,
		MaxPrice:      p.MaxPrice,
		PriceRange:    formatEGP(p.MinPrice) + " - " + formatEGP(p.MaxPrice),
		PriceCategory: PriceCategory(p.MidPrice()),
		PaymentPlans:  splitPlans(p.PaymentPlans),
		ThumbnailURL:  p.ThumbnailURL,
		Brochures:     splitList(p.PDFDocuments),
	}
	if descLimit > 0 {
		v.Description = truncate(p.Description, descLimit)
	}
	if p.Latitude != nil && p.Longitude != nil {
		v.MapsLink = geo.MapsLink(*p.Latitude, *p.Longitude)
	}
	return v
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
