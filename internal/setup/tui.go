package setup

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/vadiminshakov/tokenswallet/config"
	"github.com/vadiminshakov/tokenswallet/internal/chain"
	"github.com/vadiminshakov/tokenswallet/internal/domain"
)

// DefaultConfigFile is where the wizard writes when no path is given.
const DefaultConfigFile = "wallet.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers collected by the wizard.
type Answers struct {
	Mode       string
	APIURL     string
	Symbol     string
	Chain      string
	RPCURL     string
	Decimals   string
	SS58Prefix string
	Account    string
	Remote     bool
}

// DefaultAnswers prefilled wizard values.
func DefaultAnswers() Answers {
	return Answers{
		Mode:     config.ModeProduction,
		Symbol:   "OPAL",
		Chain:    string(domain.ChainSubstrate),
		RPCURL:   "wss://rpc-opal.unique.network",
		Decimals: "12",
		Remote:   true,
	}
}

// ConfigTmp converts the answers to the YAML config form.
func (a Answers) ConfigTmp() config.ConfigTmp {
	remote := a.Remote
	raw := config.ConfigTmp{
		Mode:           a.Mode,
		Symbol:         strings.TrimSpace(a.Symbol),
		Chain:          a.Chain,
		RPCURL:         strings.TrimSpace(a.RPCURL),
		DecimalsStr:    strings.TrimSpace(a.Decimals),
		Account:        strings.TrimSpace(a.Account),
		RemoteSettings: &remote,
	}
	if u := strings.TrimSpace(a.APIURL); u != "" && u != config.DefaultAPIURL(a.Mode) {
		raw.APIURL = u
	}
	if a.Chain == string(domain.ChainSubstrate) {
		raw.SS58PrefixStr = strings.TrimSpace(a.SS58Prefix)
	}
	return raw
}

func clearScreen() {
	fmt.Print("\033[H\033[2J")
	fmt.Println(headerStyle.Render("TOKENSWALLET CONFIG WIZARD"))
}

// RunTUI launches the terminal configuration wizard and returns the path of
// the written config.
func RunTUI(path string) (string, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	a := DefaultAnswers()
	var confirm bool

	// step 1: welcome
	clearScreen()
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Let's connect your wallet.\n"))

	// backend
	fmt.Println(stepStyle.Render("STEP 1: BACKEND"))
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Which backend do you use?").
				Options(
					huh.NewOption("Production", config.ModeProduction),
					huh.NewOption("Development (localhost)", config.ModeDevelopment),
				).
				Value(&a.Mode),
		),
	).Run()
	if err != nil {
		return "", err
	}

	a.APIURL = config.DefaultAPIURL(a.Mode)
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 2: BACKEND URL"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Backend URL").
				Value(&a.APIURL).
				Validate(validateURL("http", "https")),
			huh.NewConfirm().
				Title("Use token settings served by the backend?").
				Value(&a.Remote),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// token
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 3: TOKEN"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Token Symbol").
				Value(&a.Symbol).
				Validate(func(s string) error {
					if strings.TrimSpace(s) == "" {
						return fmt.Errorf("symbol cannot be empty")
					}
					return nil
				}),
			huh.NewInput().
				Title("Decimals").
				Description("Minor units per token as a power of ten (e.g. 12, 18)").
				Value(&a.Decimals).
				Validate(validateDecimals),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// chain
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 4: CHAIN"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Chain").
				Options(
					huh.NewOption("Substrate (SS58 addresses)", string(domain.ChainSubstrate)),
					huh.NewOption("EVM (0x addresses)", string(domain.ChainEVM)),
				).
				Value(&a.Chain),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if a.Chain == string(domain.ChainEVM) && a.RPCURL == DefaultAnswers().RPCURL {
		a.RPCURL = ""
	}

	nodeFields := []huh.Field{
		huh.NewInput().
			Title("Node URL").
			Description("Websocket endpoint of a chain node").
			Value(&a.RPCURL).
			Validate(validateURL("ws", "wss")),
	}
	if a.Chain == string(domain.ChainSubstrate) {
		nodeFields = append(nodeFields, huh.NewInput().
			Title("SS58 Prefix").
			Description("Leave empty to accept addresses of any network").
			Value(&a.SS58Prefix).
			Validate(validateSS58Prefix),
		)
	}

	clearScreen()
	fmt.Println(stepStyle.Render("STEP 5: NODE"))
	err = huh.NewForm(huh.NewGroup(nodeFields...)).Run()
	if err != nil {
		return "", err
	}

	// account
	clearScreen()
	fmt.Println(stepStyle.Render("STEP 6: ACCOUNT"))
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Account to watch").
				Description("Leave empty to use the address of the logged-in user").
				Value(&a.Account).
				Validate(func(s string) error {
					return validateAccount(a, s)
				}),
		),
	).Run()
	if err != nil {
		return "", err
	}

	// confirmation
	clearScreen()
	fmt.Println(stepStyle.Render("FINAL CONFIRMATION"))

	summary := fmt.Sprintf(
		"Backend: %s\nToken: %s (%s decimals)\nChain: %s\nNode: %s\nAccount: %s\n",
		a.APIURL, a.Symbol, a.Decimals, a.Chain, a.RPCURL, orDash(a.Account),
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}

	if !confirm {
		return "", fmt.Errorf("setup cancelled by user")
	}

	raw := a.ConfigTmp()
	if _, err := raw.Convert(); err != nil {
		return "", err
	}
	if err := config.Save(path, raw); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s", path)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return path, nil
}

func validateDecimals(s string) error {
	d, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("must be a whole number")
	}
	if d < 0 || d > 36 {
		return fmt.Errorf("must be between 0 and 36")
	}
	return nil
}

func validateSS58Prefix(s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := strconv.ParseUint(strings.TrimSpace(s), 10, 14); err != nil {
		return fmt.Errorf("must be between 0 and 16383")
	}
	return nil
}

func validateURL(schemes ...string) func(string) error {
	return func(s string) error {
		u, err := url.Parse(strings.TrimSpace(s))
		if err != nil || u.Host == "" {
			return fmt.Errorf("must be a full url (e.g. %s://host)", schemes[len(schemes)-1])
		}
		for _, scheme := range schemes {
			if u.Scheme == scheme {
				return nil
			}
		}
		return fmt.Errorf("scheme must be one of %s", strings.Join(schemes, ", "))
	}
}

func validateAccount(a Answers, s string) error {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	token := domain.TokenConfig{Chain: domain.ChainKind(a.Chain)}
	if a.SS58Prefix != "" {
		if p, err := strconv.ParseUint(a.SS58Prefix, 10, 14); err == nil {
			prefix := uint16(p)
			token.SS58Prefix = &prefix
		}
	}
	validator, err := chain.ForChain(token)
	if err != nil {
		return err
	}
	return validator.ValidateAddress(strings.TrimSpace(s))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
