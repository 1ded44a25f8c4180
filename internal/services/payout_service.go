package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/moov-io/iso20022/pkg/common"
	"github.com/moov-io/iso20022/pkg/pacs_v08"

	"github.com/surveyku/backend/internal/config"
)

const settlementQueue = "settlement_queue"

// PayoutService turns accepted withdrawals into ISO 20022 pacs.008 credit
// transfers and hands them to the settlement pipeline via Redis.
type PayoutService struct {
	db    *sql.DB
	redis *redis.Client
	cfg   *config.WalletConfig
}

func NewPayoutService(db *sql.DB, redisClient *redis.Client, cfg *config.WalletConfig) *PayoutService {
	return &PayoutService{
		db:    db,
		redis: redisClient,
		cfg:   cfg,
	}
}

type payoutMessage struct {
	Reference string    `json:"reference"`
	UserID    int       `json:"user_id"`
	Amount    float64   `json:"amount"`
	QueuedAt  time.Time `json:"queued_at"`
	Pacs008   string    `json:"pacs008"`
}

// QueueWithdrawal builds the pacs.008 message for one withdrawal and pushes
// it on the settlement queue. The wallet debit has already committed; this
// step is repeatable, keyed by the withdrawal reference.
func (s *PayoutService) QueueWithdrawal(ctx context.Context, userID int, reference string, amount float64, bankCode, bankAccount string) error {
	if s.redis == nil {
		return fmt.Errorf("settlement queue unavailable")
	}

	var holderName string
	err := s.db.QueryRowContext(ctx, `SELECT first_name || ' ' || last_name FROM users WHERE id = $1`, userID).Scan(&holderName)
	if err != nil {
		return fmt.Errorf("failed to resolve account holder: %w", err)
	}

	doc, err := s.createPacs008(reference, holderName, bankCode, amount)
	if err != nil {
		return err
	}

	xmlData, err := convertToXML(doc)
	if err != nil {
		return err
	}

	data, err := json.Marshal(payoutMessage{
		Reference: reference,
		UserID:    userID,
		Amount:    amount,
		QueuedAt:  time.Now(),
		Pacs008:   xmlData,
	})
	if err != nil {
		return err
	}

	if err := s.redis.RPush(ctx, settlementQueue, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue payout: %w", err)
	}

	log.Printf("[PAYOUT] Withdrawal %s queued for settlement", reference)
	return nil
}

// createPacs008 creates a pacs.008 FIToFICustomerCreditTransfer message for
// a withdrawal payout: the platform is the debtor, the user's bank account
// the creditor, and the withdrawal reference rides as the end-to-end id.
func (s *PayoutService) createPacs008(reference, holderName, bankCode string, amount float64) (*pacs_v08.FIToFICustomerCreditTransferV08, error) {
	msgID := uuid.New().String()
	creDtTm := time.Now()
	settlementDate := time.Now()

	doc := &pacs_v08.FIToFICustomerCreditTransferV08{
		GrpHdr: pacs_v08.GroupHeader93{
			MsgId:   common.Max35Text(msgID),
			CreDtTm: common.ISODateTime(creDtTm),
			NbOfTxs: "1",
			TtlIntrBkSttlmAmt: &pacs_v08.ActiveCurrencyAndAmount{
				Ccy:   common.ActiveCurrencyCode("IDR"),
				Value: amount,
			},
			IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
			SttlmInf: pacs_v08.SettlementInstruction7{
				SttlmMtd: "CLRG", // Clearing
			},
		},
		CdtTrfTxInf: []pacs_v08.CreditTransferTransaction39{
			{
				PmtId: pacs_v08.PaymentIdentification7{
					InstrId:    &[]common.Max35Text{common.Max35Text(reference)}[0],
					EndToEndId: common.Max35Text(reference),
					TxId:       &[]common.Max35Text{common.Max35Text(reference)}[0],
				},
				IntrBkSttlmAmt: pacs_v08.ActiveCurrencyAndAmount{
					Ccy:   common.ActiveCurrencyCode("IDR"),
					Value: amount,
				},
				IntrBkSttlmDt: (*common.ISODate)(&settlementDate),
				ChrgBr:        "SLEV",
				DbtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						BICFI: &[]common.BICFIDec2014Identifier{common.BICFIDec2014Identifier(s.cfg.PayoutBIC)}[0],
					},
				},
				Dbtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text("SurveyKu Platform")}[0],
				},
				CdtrAgt: pacs_v08.BranchAndFinancialInstitutionIdentification6{
					FinInstnId: pacs_v08.FinancialInstitutionIdentification18{
						ClrSysMmbId: &pacs_v08.ClearingSystemMemberIdentification2{
							MmbId: common.Max35Text(bankCode),
						},
					},
				},
				Cdtr: pacs_v08.PartyIdentification135{
					Nm: &[]common.Max140Text{common.Max140Text(holderName)}[0],
				},
			},
		},
	}

	return doc, nil
}

// convertToXML converts an ISO 20022 document to an XML string
func convertToXML(doc interface{}) (string, error) {
	xmlData, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal XML: %w", err)
	}
	return xml.Header + string(xmlData), nil
}
