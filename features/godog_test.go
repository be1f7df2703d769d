package features

import (
	"flag"
	"os"
	"testing"

	"github.com/cucumber/godog"
	"github.com/cucumber/godog/colors"
	"github.com/dukex/drip/features/steps"
)

var opts = godog.Options{
	Output: colors.Colored(os.Stdout),
	Format: "progress",
	Paths:  []string{"."},
	Strict: true,
}

func init() {
	godog.BindCommandLineFlags("godog.", &opts)
}

func TestFeatures(t *testing.T) {
	flag.Parse()

	suiteOpts := opts
	suiteOpts.TestingT = t

	status := godog.TestSuite{
		Name:                "drip",
		ScenarioInitializer: InitializeScenario,
		Options:             &suiteOpts,
	}.Run()

	if status != 0 {
		t.Fatalf("feature suite failed with status %d", status)
	}
}

// InitializeScenario gives every scenario its own store, clock and outbox.
func InitializeScenario(ctx *godog.ScenarioContext) {
	steps.NewCRMContext().RegisterSteps(ctx)
}
