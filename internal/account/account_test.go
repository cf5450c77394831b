package account

import (
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type AccountTestSuite struct {
	suite.Suite

	account *Account
	now     time.Time
}

func TestAccountSuite(t *testing.T) {
	suite.Run(t, new(AccountTestSuite))
}

func (suite *AccountTestSuite) SetupTest() {
	suite.account = NewAccount("backtest", "USD")
	suite.now = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
}

func (suite *AccountTestSuite) TestDepositAndBalance() {
	suite.NoError(suite.account.Deposit(1000, suite.now))
	suite.NoError(suite.account.Deposit(500, suite.now))

	suite.InDelta(1500, suite.account.Balance(), 1e-8)
	suite.InDelta(1500, suite.account.TotalDeposited(), 1e-8)
}

func (suite *AccountTestSuite) TestDepositRejectsNonPositive() {
	suite.Error(suite.account.Deposit(0, suite.now))
	suite.Error(suite.account.Deposit(-5, suite.now))
	suite.Len(suite.account.Entries(), 0)
}

func (suite *AccountTestSuite) TestWithdraw() {
	suite.NoError(suite.account.Deposit(1000, suite.now))
	suite.NoError(suite.account.Withdraw(400, suite.now))

	suite.InDelta(600, suite.account.Balance(), 1e-8)
	// Withdrawals never reduce the deposited total
	suite.InDelta(1000, suite.account.TotalDeposited(), 1e-8)
}

func (suite *AccountTestSuite) TestWithdrawRejectsOverdraw() {
	suite.NoError(suite.account.Deposit(100, suite.now))

	err := suite.account.Withdraw(100.01, suite.now)
	suite.Error(err)
	suite.InDelta(100, suite.account.Balance(), 1e-8)
}

func (suite *AccountTestSuite) TestTradeDebitCredit() {
	suite.NoError(suite.account.Deposit(1000, suite.now))

	suite.account.Debit(250, "buy 2.5 BTC", suite.now)
	suite.InDelta(750, suite.account.Balance(), 1e-8)

	suite.account.Credit(300, "sell 2.5 BTC", suite.now)
	suite.InDelta(1050, suite.account.Balance(), 1e-8)

	// Trade entries do not count as deposits
	suite.InDelta(1000, suite.account.TotalDeposited(), 1e-8)
}

func (suite *AccountTestSuite) TestDebitMayOverdraw() {
	suite.NoError(suite.account.Deposit(100, suite.now))
	suite.account.Debit(150, "buy", suite.now)

	suite.InDelta(-50, suite.account.Balance(), 1e-8)
}

func (suite *AccountTestSuite) TestBalanceExactWithFloatHostileAmounts() {
	// 0.1 + 0.2 style sums must stay exact through the decimal ledger
	for i := 0; i < 10; i++ {
		suite.NoError(suite.account.Deposit(0.1, suite.now))
	}

	suite.InDelta(1.0, suite.account.Balance(), 0)
}

func (suite *AccountTestSuite) TestEntriesAreCopied() {
	suite.NoError(suite.account.Deposit(100, suite.now))

	entries := suite.account.Entries()
	entries[0].Reason = "mutated"

	suite.Equal("deposit", suite.account.Entries()[0].Reason)
}
