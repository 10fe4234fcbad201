package logging

const (
	// FieldError can be used instead of Err(err) if you have only the error message string.
	FieldError = "err"

	FieldComponent = "component"
	FieldDuration  = "duration"

	FieldBlockNumber = "blockNumber"
	FieldStateRoot   = "stateRoot"
	FieldBestBlock   = "bestBlock"

	FieldTxId       = "txId"
	FieldTxIndex    = "txIndex"
	FieldOperation  = "op"
	FieldCaller     = "caller"
	FieldGasLimit   = "gasLimit"
	FieldGasUsed    = "gasUsed"
	FieldGasPrice   = "gasPrice"
	FieldErrorCode  = "errorCode"
	FieldOutpoint   = "outpoint"
	FieldAmount     = "amount"
	FieldProposalId = "proposal"

	FieldContractAddress  = "contract"
	FieldContractName     = "contractName"
	FieldContractTemplate = "template"
	FieldApiName          = "api"
)
