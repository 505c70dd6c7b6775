package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// DocumentProfile describes the seller identity printed on every invoice document.
type DocumentProfile struct {
	Seller    SellerProfile `mapstructure:"seller"`
	Bank      BankProfile   `mapstructure:"bank"`
	Signature []string      `mapstructure:"signature"`
	Locale    string        `mapstructure:"locale"`
	Currency  string        `mapstructure:"currency"`
	LogoPath  string        `mapstructure:"logoPath"`
	Font      FontProfile   `mapstructure:"font"`
}

type SellerProfile struct {
	Name    string   `mapstructure:"name"`
	Address []string `mapstructure:"address"`
	Email   string   `mapstructure:"email"`
	Phone   string   `mapstructure:"phone"`
	Website string   `mapstructure:"website"`
	TaxID   string   `mapstructure:"taxId"`
}

type BankProfile struct {
	AccountHolder string `mapstructure:"accountHolder"`
	BankName      string `mapstructure:"bankName"`
	IBAN          string `mapstructure:"iban"`
	BIC           string `mapstructure:"bic"`
}

// FontProfile points at UTF-8 TTF files. An empty family keeps the built-in Helvetica.
type FontProfile struct {
	Family  string `mapstructure:"family"`
	Regular string `mapstructure:"regular"`
	Bold    string `mapstructure:"bold"`
}

func DefaultDocumentProfile() DocumentProfile {
	return DocumentProfile{
		Seller: SellerProfile{
			Name: "InvoiceDesk",
		},
		Signature: []string{"Kind regards"},
		Locale:    "en",
		Currency:  "EUR",
	}
}

type DocumentProfileHolder struct {
	current atomic.Value // holds DocumentProfile
}

// NewDocumentProfileHolder loads <profile>.yml from the usual config paths and
// keeps it hot-reloaded. A missing file falls back to defaults.
func NewDocumentProfileHolder(cfg Config) (*DocumentProfileHolder, error) {
	v := viper.New()

	name := strings.TrimSpace(cfg.Render.ProfileName)
	if name == "" {
		name = "document"
	}
	v.SetConfigName(name)
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/invoicedesk/config")
	v.AddConfigPath("/etc/invoicedesk")
	v.AddConfigPath(".")

	return newDocumentProfileHolder(v)
}

// NewDocumentProfileHolderFromFile loads a profile from an explicit path.
func NewDocumentProfileHolderFromFile(path string) (*DocumentProfileHolder, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return newDocumentProfileHolder(v)
}

// NewStaticDocumentProfileHolder wraps a fixed profile without file watching.
func NewStaticDocumentProfileHolder(profile DocumentProfile) *DocumentProfileHolder {
	holder := &DocumentProfileHolder{}
	holder.current.Store(normalizeDocumentProfile(profile))
	return holder
}

func newDocumentProfileHolder(v *viper.Viper) (*DocumentProfileHolder, error) {
	v.SetEnvPrefix("INVOICEDESK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	profile, err := decodeDocumentProfile(v)
	if err != nil {
		return nil, err
	}

	holder := &DocumentProfileHolder{}
	holder.current.Store(profile)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := decodeDocumentProfile(v)
			if err != nil {
				log.Printf("[document-profile] invalid profile ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[document-profile] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

func decodeDocumentProfile(v *viper.Viper) (DocumentProfile, error) {
	profile := DefaultDocumentProfile()
	if err := v.UnmarshalKey("document", &profile); err != nil {
		return DocumentProfile{}, err
	}
	profile = normalizeDocumentProfile(profile)
	if err := validateDocumentProfile(profile); err != nil {
		return DocumentProfile{}, err
	}
	return profile, nil
}

func (h *DocumentProfileHolder) Get() DocumentProfile {
	return h.current.Load().(DocumentProfile)
}

func normalizeDocumentProfile(p DocumentProfile) DocumentProfile {
	p.Seller.Name = strings.TrimSpace(p.Seller.Name)
	p.Locale = strings.TrimSpace(p.Locale)
	if p.Locale == "" {
		p.Locale = "en"
	}
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))
	if p.Currency == "" {
		p.Currency = "EUR"
	}
	p.LogoPath = strings.TrimSpace(p.LogoPath)
	p.Font.Family = strings.TrimSpace(p.Font.Family)
	return p
}

func validateDocumentProfile(p DocumentProfile) error {
	if p.Seller.Name == "" {
		return errors.New("document.seller.name cannot be empty")
	}
	if len(p.Currency) != 3 {
		return errors.New("document.currency must be a 3-letter code")
	}
	if p.Font.Family != "" && (strings.TrimSpace(p.Font.Regular) == "" || strings.TrimSpace(p.Font.Bold) == "") {
		return errors.New("document.font requires regular and bold files")
	}
	return nil
}
