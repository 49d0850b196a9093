package service

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"saaskit/internal/model"
	"saaskit/pkg/apperror"
	"saaskit/pkg/cache"
	"saaskit/pkg/logger"
	"saaskit/prometheus"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Block types of the page builder
const (
	BlockBanner       = "banner"
	BlockHero         = "hero"
	BlockFeatures     = "features"
	BlockPricing      = "pricing"
	BlockFAQ          = "faq"
	BlockTestimonials = "testimonials"
	BlockNewsletter   = "newsletter"
	BlockRichText     = "richText"
	BlockFooter       = "footer"
)

// LandingSlug is the slug of the page served at the site root
const LandingSlug = "/"

const pageCacheTTL = 5 * time.Minute

var pageSlugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*(?:/[a-z0-9]+(?:-[a-z0-9]+)*)*$`)

type link struct {
	Text string `json:"text" validate:"required"`
	Href string `json:"href" validate:"required"`
}

type bannerBlock struct {
	Text string `json:"text" validate:"required"`
	Href string `json:"href,omitempty"`
}

type heroBlock struct {
	Headline    string `json:"headline" validate:"required"`
	Subheadline string `json:"subheadline,omitempty"`
	Image       string `json:"image,omitempty"`
	CTA         *link  `json:"cta,omitempty" validate:"omitempty"`
}

type featuresBlock struct {
	Headline string `json:"headline,omitempty"`
	Items    []struct {
		Name        string `json:"name" validate:"required"`
		Description string `json:"description,omitempty"`
		Icon        string `json:"icon,omitempty"`
	} `json:"items" validate:"required,min=1,dive"`
}

type pricingBlock struct {
	Headline string                   `json:"headline,omitempty"`
	Plans    []model.SubscriptionPlan `json:"plans,omitempty"`
}

type faqBlock struct {
	Headline string `json:"headline,omitempty"`
	Items    []struct {
		Question string `json:"question" validate:"required"`
		Answer   string `json:"answer" validate:"required"`
	} `json:"items" validate:"required,min=1,dive"`
}

type testimonialsBlock struct {
	Headline string `json:"headline,omitempty"`
	Items    []struct {
		Name  string `json:"name" validate:"required"`
		Quote string `json:"quote" validate:"required"`
		Role  string `json:"role,omitempty"`
	} `json:"items" validate:"required,min=1,dive"`
}

type newsletterBlock struct {
	Headline    string `json:"headline" validate:"required"`
	Description string `json:"description,omitempty"`
}

type richTextBlock struct {
	Content string `json:"content" validate:"required"`
}

type footerBlock struct {
	Text  string `json:"text,omitempty"`
	Links []link `json:"links" validate:"dive"`
}

// BlockType describes a block available in the page builder
type BlockType struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Required []string `json:"required"`
}

type blockSpec struct {
	title    string
	required []string
	newData  func() any
}

var blockRegistry = map[string]blockSpec{
	BlockBanner:       {"Banner", []string{"text"}, func() any { return &bannerBlock{} }},
	BlockHero:         {"Hero", []string{"headline"}, func() any { return &heroBlock{} }},
	BlockFeatures:     {"Features", []string{"items"}, func() any { return &featuresBlock{} }},
	BlockPricing:      {"Pricing", nil, func() any { return &pricingBlock{} }},
	BlockFAQ:          {"FAQ", []string{"items"}, func() any { return &faqBlock{} }},
	BlockTestimonials: {"Testimonials", []string{"items"}, func() any { return &testimonialsBlock{} }},
	BlockNewsletter:   {"Newsletter", []string{"headline"}, func() any { return &newsletterBlock{} }},
	BlockRichText:     {"Rich text", []string{"content"}, func() any { return &richTextBlock{} }},
	BlockFooter:       {"Footer", nil, func() any { return &footerBlock{} }},
}

// BlockTypes lists the registered block types sorted by type
func BlockTypes() []BlockType {
	out := make([]BlockType, 0, len(blockRegistry))
	for name, spec := range blockRegistry {
		out = append(out, BlockType{Type: name, Title: spec.title, Required: spec.required})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ValidateBlock checks a block against its registered type
func ValidateBlock(block model.Block) error {
	spec, ok := blockRegistry[block.Type]
	if !ok {
		return apperror.Newf(apperror.CodeInvalidInput, "unknown block type %q", block.Type).WithField("blocks", "unknown type")
	}

	data := spec.newData()
	raw := block.Data
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidInput, block.Type+" block data is malformed").WithField("blocks", "malformed data")
	}
	if err := fieldValidator.Struct(data); err != nil {
		return apperror.Wrap(err, apperror.CodeInvalidInput, block.Type+" block is incomplete").WithField("blocks", err.Error())
	}
	return nil
}

// PageInput creates or replaces a page
type PageInput struct {
	Slug        string        `json:"slug" validate:"required,max=150"`
	Title       string        `json:"title" validate:"required,max=150"`
	Description string        `json:"description"`
	IsPublished bool          `json:"is_published"`
	Blocks      []model.Block `json:"blocks"`
}

// PageService manages marketing pages
type PageService struct {
	db      *gorm.DB
	cache   *cache.Cache
	billing *BillingService
}

// NewPageService creates a page service. billing supplies plans to pricing
// blocks.
func NewPageService(db *gorm.DB, c *cache.Cache, billing *BillingService) *PageService {
	return &PageService{db: db, cache: c, billing: billing}
}

func (s *PageService) invalidate() {
	if s.cache != nil {
		s.cache.DeletePrefix("page:")
	}
}

func normalizePageSlug(slug string) (string, error) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	if slug == LandingSlug || slug == "" {
		return LandingSlug, nil
	}
	slug = strings.Trim(slug, "/")
	if !pageSlugPattern.MatchString(slug) {
		return "", apperror.Invalid("invalid slug").WithField("slug", "lowercase words separated by - or /")
	}
	return slug, nil
}

func (s *PageService) normalize(in *PageInput) error {
	slug, err := normalizePageSlug(in.Slug)
	if err != nil {
		return err
	}
	in.Slug = slug
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return apperror.Invalid("title is required").WithField("title", "is required")
	}
	for _, b := range in.Blocks {
		if err := ValidateBlock(b); err != nil {
			return err
		}
	}
	if in.Blocks == nil {
		in.Blocks = []model.Block{}
	}
	return nil
}

func (s *PageService) slugTaken(db *gorm.DB, slug string, exceptID uint) error {
	var count int64
	if err := db.Model(&model.Page{}).Where("slug = ? AND id <> ?", slug, exceptID).Count(&count).Error; err != nil {
		return apperror.DB(err, "page")
	}
	if count > 0 {
		return apperror.Conflict("slug already in use").WithField("slug", "already in use")
	}
	return nil
}

// Create stores a new page
func (s *PageService) Create(ctx context.Context, in PageInput) (*model.Page, error) {
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := s.slugTaken(db, in.Slug, 0); err != nil {
		return nil, err
	}

	page := model.Page{
		Slug:        in.Slug,
		Title:       in.Title,
		Description: in.Description,
		IsPublished: in.IsPublished,
		Blocks:      datatypes.NewJSONType(in.Blocks),
	}
	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := db.Create(&page).Error; err != nil {
		return nil, apperror.DB(err, "page")
	}
	s.invalidate()

	logger.FromCtx(ctx).Info("Page created", zap.Uint("page_id", page.ID), zap.String("slug", page.Slug))
	return &page, nil
}

// Get returns a page by id
func (s *PageService) Get(ctx context.Context, id uint) (*model.Page, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var page model.Page
	if err := s.db.WithContext(ctx).First(&page, id).Error; err != nil {
		return nil, apperror.DB(err, "page")
	}
	return &page, nil
}

// List returns every page ordered by slug
func (s *PageService) List(ctx context.Context) ([]model.Page, error) {
	defer prometheus.TrackDBOperation("query")(time.Now())

	var pages []model.Page
	if err := s.db.WithContext(ctx).Order("slug ASC").Find(&pages).Error; err != nil {
		return nil, apperror.DB(err, "page")
	}
	return pages, nil
}

// Update replaces a page
func (s *PageService) Update(ctx context.Context, id uint, in PageInput) (*model.Page, error) {
	page, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.normalize(&in); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if err := s.slugTaken(db, in.Slug, page.ID); err != nil {
		return nil, err
	}

	page.Slug = in.Slug
	page.Title = in.Title
	page.Description = in.Description
	page.IsPublished = in.IsPublished
	page.Blocks = datatypes.NewJSONType(in.Blocks)

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := db.Save(page).Error; err != nil {
		return nil, apperror.DB(err, "page")
	}
	s.invalidate()
	return page, nil
}

// Delete removes a page
func (s *PageService) Delete(ctx context.Context, id uint) error {
	defer prometheus.TrackDBOperation("delete")(time.Now())

	result := s.db.WithContext(ctx).Delete(&model.Page{}, id)
	if result.Error != nil {
		return apperror.DB(result.Error, "page")
	}
	if result.RowsAffected == 0 {
		return apperror.NotFound("page")
	}
	s.invalidate()
	return nil
}

// GetPublished returns a published page by slug with pricing blocks filled
// with the active plans
func (s *PageService) GetPublished(ctx context.Context, slug string) (*model.Page, error) {
	slug, err := normalizePageSlug(slug)
	if err != nil {
		return nil, apperror.NotFound("page")
	}

	load := func(ctx context.Context) (*model.Page, error) {
		var page model.Page
		err := s.db.WithContext(ctx).Where("slug = ? AND is_published = ?", slug, true).First(&page).Error
		if err != nil {
			return nil, apperror.DB(err, "page")
		}
		if err := s.hydrate(ctx, &page); err != nil {
			return nil, err
		}
		return &page, nil
	}

	if s.cache == nil {
		return load(ctx)
	}
	return cache.Cachified(ctx, s.cache, "page:"+slug, pageCacheTTL, load)
}

func (s *PageService) hydrate(ctx context.Context, page *model.Page) error {
	blocks := page.Blocks.Data()
	var plans []model.SubscriptionPlan

	for i, b := range blocks {
		if b.Type != BlockPricing {
			continue
		}
		if plans == nil {
			var err error
			if plans, err = s.billing.ListPlans(ctx, true); err != nil {
				return err
			}
		}

		var data pricingBlock
		if len(b.Data) > 0 {
			if err := json.Unmarshal(b.Data, &data); err != nil {
				return apperror.Wrap(err, apperror.CodeInternal, "stored pricing block is malformed")
			}
		}
		data.Plans = plans
		raw, err := json.Marshal(data)
		if err != nil {
			return apperror.Wrap(err, apperror.CodeInternal, "failed to render pricing block")
		}
		blocks[i].Data = raw
	}
	page.Blocks = datatypes.NewJSONType(blocks)
	return nil
}
